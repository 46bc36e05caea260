package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/mautops/record-gin/internal/integration"
	"github.com/mautops/record-gin/internal/metrics"
	"github.com/mautops/record-gin/internal/repository"
	"github.com/mautops/record-gin/internal/utils"
	"github.com/mautops/record-gin/pkg/statemachine"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// TemplateService 模板服务接口
type TemplateService interface {
	Create(ctx context.Context, actor *types.Actor, def *template.Template) (*template.Template, error)
	Get(ctx context.Context, actor *types.Actor, id string, version int) (*template.Template, error)
	Resolve(ctx context.Context, id string, version int) (*template.Template, error)
	Update(ctx context.Context, actor *types.Actor, id string, def *template.Template) (*template.Template, error)
	Delete(ctx context.Context, actor *types.Actor, id string) error
	List(ctx context.Context, actor *types.Actor, filter *TemplateListFilter) (*TemplateListResponse, error)
	ListVersions(ctx context.Context, actor *types.Actor, id string) ([]int, error)
	History(ctx context.Context, actor *types.Actor, id string) ([]types.HistoryEntry, error)
	Validate(def *template.Template) []types.Violation
	Clone(ctx context.Context, actor *types.Actor, id string) (*template.Template, error)
	ToggleActive(ctx context.Context, actor *types.Actor, id string) (*template.Template, error)
	Preview(ctx context.Context, actor *types.Actor, id string, version int) (*template.EffectiveSchema, error)
	AddState(ctx context.Context, actor *types.Actor, id string, state *statemachine.State) (*template.Template, error)
	UpdateState(ctx context.Context, actor *types.Actor, id, stateID string, state *statemachine.State) (*template.Template, error)
	RemoveState(ctx context.Context, actor *types.Actor, id, stateID string) (*template.Template, error)
	ReorderStates(ctx context.Context, actor *types.Actor, id string, stateIDs []string) (*template.Template, error)
	Export(ctx context.Context, actor *types.Actor, ids []string, w io.Writer) (int, error)
	Import(ctx context.Context, actor *types.Actor, r io.Reader) ([]*template.Template, error)
}

// TemplateListFilter 模板列表查询过滤器
type TemplateListFilter struct {
	Page     int
	PageSize int
	Search   string
	Active   *bool
	SortBy   string
	Order    string // asc/desc
}

// TemplateListResponse 模板列表响应
type TemplateListResponse struct {
	Data       []*template.Template `json:"data"`
	Pagination PaginationInfo       `json:"pagination"`
}

// PaginationInfo 分页信息
type PaginationInfo struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int   `json:"total_page"`
}

// TemplateServiceOptions 模板服务参数
type TemplateServiceOptions struct {
	ManagerRoles []string      // 可创建与管理任意模板的角色
	CacheTTL     time.Duration // 模板缓存时间
}

// templateService 模板服务实现
type templateService struct {
	templateMgr  integration.TemplateManager
	auditLogSvc  AuditLogService
	managerRoles []string
	cache        *cache.Cache
	logger       logrus.FieldLogger
	now          func() time.Time
}

// NewTemplateService 创建模板服务
func NewTemplateService(templateMgr integration.TemplateManager, auditLogSvc AuditLogService, opts TemplateServiceOptions, logger logrus.FieldLogger) TemplateService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute // 默认缓存 5 分钟
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &templateService{
		templateMgr:  templateMgr,
		auditLogSvc:  auditLogSvc,
		managerRoles: opts.ManagerRoles,
		cache:        cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		logger:       logger,
		now:          time.Now,
	}
}

// Create 创建模板,版本从 1 开始
func (s *templateService) Create(ctx context.Context, actor *types.Actor, def *template.Template) (*template.Template, error) {
	if !s.canManage(actor, nil) {
		return nil, types.PermissionDeniedf("roles cannot create templates")
	}
	if def == nil {
		return nil, types.NewValidationError([]types.Violation{{Field: "template", Rule: "required", Message: "template definition is required"}})
	}

	// 1. 构建模板对象
	now := s.now()
	tpl := def.Clone()
	tpl.ID = uuid.New().String()
	tpl.OrganizationID = actor.OrganizationID
	tpl.Version = 1
	tpl.Active = true
	tpl.Deleted = false
	tpl.CreatedBy, tpl.UpdatedBy = actor.ID, actor.ID
	tpl.CreatedAt, tpl.UpdatedAt = now, now

	// 2. 分配唯一编码
	code, err := s.assignCode(ctx, tpl.OrganizationID, tpl.Code, tpl.Name, "")
	if err != nil {
		return nil, err
	}
	tpl.Code = code

	// 3. 整体校验后持久化
	if err := template.ValidationError(tpl); err != nil {
		return nil, err
	}
	entry := types.HistoryEntry{Kind: types.HistoryCreated, Actor: actor.ID, Timestamp: now, To: "v1"}
	if err := s.templateMgr.Create(ctx, tpl, entry); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	s.audit(ctx, actor, "create", tpl.ID, map[string]interface{}{"code": tpl.Code, "name": tpl.Name})
	metrics.RecordTemplateOperation("create")
	return tpl, nil
}

// Get 获取模板,需要模板查看权限
func (s *templateService) Get(ctx context.Context, actor *types.Actor, id string, version int) (*template.Template, error) {
	tpl, err := s.load(ctx, actor, id, version)
	if err != nil {
		return nil, err
	}
	if !s.canManage(actor, tpl) && !types.Permits(actor.Roles, tpl.Permissions.View) {
		return nil, types.PermissionDeniedf("roles cannot view template %s", tpl.Code)
	}
	return tpl, nil
}

// Resolve 获取记录绑定的模板版本（带缓存）,包含已删除模板
// 返回的模板为共享只读对象
func (s *templateService) Resolve(ctx context.Context, id string, version int) (*template.Template, error) {
	cacheKey := fmt.Sprintf("%s:%d", id, version)
	if val, found := s.cache.Get(cacheKey); found {
		return val.(*template.Template), nil
	}

	tpl, err := s.templateMgr.Resolve(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if version > 0 {
		s.cache.SetDefault(cacheKey, tpl)
	}
	return tpl, nil
}

// Update 以完整定义替换模板结构,生成新版本
func (s *templateService) Update(ctx context.Context, actor *types.Actor, id string, def *template.Template) (*template.Template, error) {
	if def == nil {
		return nil, types.NewValidationError([]types.Violation{{Field: "template", Rule: "required", Message: "template definition is required"}})
	}
	return s.applyUpdate(ctx, actor, id, "update", func(current, next *template.Template) error {
		code := def.Code
		if code == "" {
			code = current.Code
		}
		if code != current.Code {
			taken, err := s.templateMgr.CodeTaken(ctx, current.OrganizationID, code, current.ID)
			if err != nil {
				return err
			}
			if taken {
				return types.Conflictf("template code %s already exists", code)
			}
		}
		next.Code = code
		next.Name = def.Name
		next.Description = def.Description
		next.Fields = def.Clone().Fields
		next.States = def.Clone().States
		next.Config = def.Clone().Config
		next.Permissions = def.Clone().Permissions
		return nil
	})
}

// AddState 新增单个状态
func (s *templateService) AddState(ctx context.Context, actor *types.Actor, id string, state *statemachine.State) (*template.Template, error) {
	return s.applyUpdate(ctx, actor, id, "add_state", func(_, next *template.Template) error {
		return next.AddState(state.Clone())
	})
}

// UpdateState 修改单个状态
func (s *templateService) UpdateState(ctx context.Context, actor *types.Actor, id, stateID string, state *statemachine.State) (*template.Template, error) {
	return s.applyUpdate(ctx, actor, id, "update_state", func(_, next *template.Template) error {
		return next.UpdateState(stateID, state.Clone())
	})
}

// RemoveState 删除单个状态,指向它的迁移一并移除
func (s *templateService) RemoveState(ctx context.Context, actor *types.Actor, id, stateID string) (*template.Template, error) {
	return s.applyUpdate(ctx, actor, id, "remove_state", func(_, next *template.Template) error {
		return next.RemoveState(stateID)
	})
}

// ReorderStates 调整状态顺序
func (s *templateService) ReorderStates(ctx context.Context, actor *types.Actor, id string, stateIDs []string) (*template.Template, error) {
	return s.applyUpdate(ctx, actor, id, "reorder_states", func(_, next *template.Template) error {
		return next.ReorderStates(stateIDs)
	})
}

// applyUpdate 在最新版本的副本上执行修改,整体校验后保存为新版本并记录差异
func (s *templateService) applyUpdate(ctx context.Context, actor *types.Actor, id, operation string, mutate func(current, next *template.Template) error) (*template.Template, error) {
	// 1. 获取当前模板
	current, err := s.load(ctx, actor, id, 0)
	if err != nil {
		return nil, err
	}
	if !s.canManage(actor, current) {
		return nil, types.PermissionDeniedf("roles cannot edit template %s", current.Code)
	}

	// 2. 在副本上修改
	next := current.Clone()
	if err := mutate(current, next); err != nil {
		return nil, err
	}
	now := s.now()
	next.Version = current.Version + 1
	next.UpdatedBy = actor.ID
	next.UpdatedAt = now

	// 3. 整体校验,校验失败不写入
	if err := template.ValidationError(next); err != nil {
		return nil, err
	}

	// 4. 保存新版本并记录差异
	diff, err := template.Diff(current, next)
	if err != nil {
		return nil, err
	}
	entry := types.HistoryEntry{
		Kind:      types.HistoryUpdated,
		Actor:     actor.ID,
		Timestamp: now,
		From:      fmt.Sprintf("v%d", current.Version),
		To:        fmt.Sprintf("v%d", next.Version),
		Note:      operation,
		Diff:      diff,
	}
	if err := s.templateMgr.Update(ctx, next, entry); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	s.clearTemplateCache(id)

	s.audit(ctx, actor, operation, id, map[string]interface{}{"code": next.Code, "version": next.Version})
	metrics.RecordTemplateOperation(operation)
	return next, nil
}

// Delete 软删除模板
func (s *templateService) Delete(ctx context.Context, actor *types.Actor, id string) error {
	current, err := s.load(ctx, actor, id, 0)
	if err != nil {
		return err
	}
	if !s.canManage(actor, current) && !types.HasRole(actor.Roles, current.Permissions.Delete) {
		return types.PermissionDeniedf("roles cannot delete template %s", current.Code)
	}

	entry := types.HistoryEntry{Kind: types.HistoryDeleted, Actor: actor.ID, Timestamp: s.now(), From: fmt.Sprintf("v%d", current.Version)}
	if err := s.templateMgr.Delete(ctx, id, entry); err != nil {
		return err
	}
	s.clearTemplateCache(id)

	s.audit(ctx, actor, "delete", id, map[string]interface{}{"code": current.Code, "name": current.Name})
	metrics.RecordTemplateOperation("delete")
	return nil
}

// ToggleActive 切换启用状态,只修改标记不产生新版本
func (s *templateService) ToggleActive(ctx context.Context, actor *types.Actor, id string) (*template.Template, error) {
	current, err := s.load(ctx, actor, id, 0)
	if err != nil {
		return nil, err
	}
	if !s.canManage(actor, current) {
		return nil, types.PermissionDeniedf("roles cannot change template %s", current.Code)
	}

	active := !current.Active
	kind := types.HistoryDisabled
	if active {
		kind = types.HistoryActivated
	}
	entry := types.HistoryEntry{Kind: kind, Actor: actor.ID, Timestamp: s.now()}
	if err := s.templateMgr.SetActive(ctx, id, active, entry); err != nil {
		return nil, err
	}
	s.clearTemplateCache(id)

	s.audit(ctx, actor, "toggle_active", id, map[string]interface{}{"active": active})
	metrics.RecordTemplateOperation("toggle_active")
	return s.templateMgr.Get(ctx, id, 0)
}

// Clone 深拷贝模板,新 ID、新编码、版本重置为 1
func (s *templateService) Clone(ctx context.Context, actor *types.Actor, id string) (*template.Template, error) {
	src, err := s.Get(ctx, actor, id, 0)
	if err != nil {
		return nil, err
	}
	if !s.canManage(actor, src) {
		return nil, types.PermissionDeniedf("roles cannot clone template %s", src.Code)
	}

	now := s.now()
	c := src.Clone()
	c.ID = uuid.New().String()
	c.Version = 1
	c.Active = true
	c.Deleted = false
	c.CreatedBy, c.UpdatedBy = actor.ID, actor.ID
	c.CreatedAt, c.UpdatedAt = now, now
	code, err := s.assignCode(ctx, c.OrganizationID, "", src.Code+"-COPY", "")
	if err != nil {
		return nil, err
	}
	c.Code = code

	entry := types.HistoryEntry{Kind: types.HistoryCloned, Actor: actor.ID, Timestamp: now, From: src.Code, To: "v1", Note: "cloned from " + src.Code}
	if err := s.templateMgr.Create(ctx, c, entry); err != nil {
		return nil, fmt.Errorf("failed to clone template: %w", err)
	}

	s.audit(ctx, actor, "clone", c.ID, map[string]interface{}{"source_id": src.ID, "code": c.Code})
	metrics.RecordTemplateOperation("clone")
	return c, nil
}

// Validate 独立校验草稿,无副作用
func (s *templateService) Validate(def *template.Template) []types.Violation {
	return template.Validate(def)
}

// Preview 返回各状态的有效字段,管理者看到全部字段
func (s *templateService) Preview(ctx context.Context, actor *types.Actor, id string, version int) (*template.EffectiveSchema, error) {
	tpl, err := s.Get(ctx, actor, id, version)
	if err != nil {
		return nil, err
	}
	if s.canManage(actor, tpl) {
		return template.Preview(tpl), nil
	}
	return template.PreviewFor(tpl, actor.Roles), nil
}

// List 查询当前组织的模板（每个模板的最新版本）
func (s *templateService) List(ctx context.Context, actor *types.Actor, filter *TemplateListFilter) (*TemplateListResponse, error) {
	if filter == nil {
		filter = &TemplateListFilter{}
	}
	page, pageSize, offset := utils.NormalizePage(filter.Page, filter.PageSize)
	sortBy, order, err := utils.NormalizeSort(filter.SortBy, filter.Order, utils.TemplateSortFields)
	if err != nil {
		return nil, types.NewValidationError([]types.Violation{{Field: "sort_by", Rule: "options", Message: err.Error()}})
	}

	templates, total, err := s.templateMgr.List(ctx, repository.TemplateFilter{
		OrganizationID: actor.OrganizationID,
		Search:         filter.Search,
		Active:         filter.Active,
		SortBy:         sortBy,
		Order:          order,
		Offset:         offset,
		Limit:          pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	return &TemplateListResponse{
		Data: templates,
		Pagination: PaginationInfo{
			Page:      page,
			PageSize:  pageSize,
			Total:     total,
			TotalPage: utils.TotalPages(total, pageSize),
		},
	}, nil
}

// ListVersions 列出模板版本
func (s *templateService) ListVersions(ctx context.Context, actor *types.Actor, id string) ([]int, error) {
	if _, err := s.Get(ctx, actor, id, 0); err != nil {
		return nil, err
	}
	return s.templateMgr.ListVersions(ctx, id)
}

// History 模板历史
func (s *templateService) History(ctx context.Context, actor *types.Actor, id string) ([]types.HistoryEntry, error) {
	if _, err := s.Get(ctx, actor, id, 0); err != nil {
		return nil, err
	}
	return s.templateMgr.History(ctx, id)
}

// Export 将模板导出为 YAML 多文档流,ids 为空时导出组织内全部模板
func (s *templateService) Export(ctx context.Context, actor *types.Actor, ids []string, w io.Writer) (int, error) {
	var list []*template.Template
	if len(ids) == 0 {
		for page := 1; ; page++ {
			resp, err := s.List(ctx, actor, &TemplateListFilter{Page: page, PageSize: utils.MaxPageSize, SortBy: "code", Order: "asc"})
			if err != nil {
				return 0, err
			}
			list = append(list, resp.Data...)
			if page >= resp.Pagination.TotalPage {
				break
			}
		}
	} else {
		for _, id := range ids {
			tpl, err := s.load(ctx, actor, id, 0)
			if err != nil {
				return 0, err
			}
			list = append(list, tpl)
		}
	}

	for _, tpl := range list {
		if !s.canManage(actor, tpl) && !types.HasRole(actor.Roles, tpl.Permissions.Export) {
			return 0, types.PermissionDeniedf("roles cannot export template %s", tpl.Code)
		}
	}
	if err := template.EncodeAll(w, list); err != nil {
		return 0, err
	}
	return len(list), nil
}

// Import 导入 YAML 模板,组织内已存在的编码更新为新版本,否则新建
// 全部文档先校验,任一失败时不写入
func (s *templateService) Import(ctx context.Context, actor *types.Actor, r io.Reader) ([]*template.Template, error) {
	// 1. 解码与校验全部文档
	defs, err := template.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, types.NewValidationError([]types.Violation{{Field: "document", Rule: "required", Message: "no template documents found"}})
	}

	var violations []types.Violation
	targets := make([]*template.Template, len(defs))
	for i, def := range defs {
		for _, v := range template.Validate(def) {
			v.Field = fmt.Sprintf("documents[%d].%s", i, v.Field)
			violations = append(violations, v)
		}
		existing, err := s.findByCode(ctx, actor.OrganizationID, def.Code)
		if err != nil {
			return nil, err
		}
		targets[i] = existing
		switch {
		case existing == nil && !s.canManage(actor, nil):
			return nil, types.PermissionDeniedf("roles cannot create templates")
		case existing != nil && !s.canManage(actor, existing) && !types.HasRole(actor.Roles, existing.Permissions.Import):
			return nil, types.PermissionDeniedf("roles cannot import into template %s", existing.Code)
		}
	}
	if err := types.NewValidationError(violations); err != nil {
		return nil, err
	}

	// 2. 逐个写入
	out := make([]*template.Template, 0, len(defs))
	for i, def := range defs {
		var (
			tpl *template.Template
			err error
		)
		if targets[i] == nil {
			tpl, err = s.Create(ctx, actor, def)
		} else {
			tpl, err = s.importInto(ctx, actor, targets[i].ID, def)
		}
		if err != nil {
			return out, fmt.Errorf("failed to import template %s: %w", def.Code, err)
		}
		out = append(out, tpl)
	}
	return out, nil
}

func (s *templateService) importInto(ctx context.Context, actor *types.Actor, id string, def *template.Template) (*template.Template, error) {
	return s.applyUpdate(ctx, actor, id, "import", func(_, next *template.Template) error {
		src := def.Clone()
		next.Name = src.Name
		next.Description = src.Description
		next.Fields = src.Fields
		next.States = src.States
		next.Config = src.Config
		next.Permissions = src.Permissions
		return nil
	})
}

// findByCode 按编码查找组织内未删除的模板
func (s *templateService) findByCode(ctx context.Context, organizationID, code string) (*template.Template, error) {
	if code == "" {
		return nil, nil
	}
	list, _, err := s.templateMgr.List(ctx, repository.TemplateFilter{OrganizationID: organizationID, Search: code})
	if err != nil {
		return nil, err
	}
	for _, tpl := range list {
		if tpl.Code == code {
			return tpl, nil
		}
	}
	return nil, nil
}

// load 获取模板,其他组织的模板视为不存在
func (s *templateService) load(ctx context.Context, actor *types.Actor, id string, version int) (*template.Template, error) {
	tpl, err := s.templateMgr.Get(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if tpl.OrganizationID != actor.OrganizationID {
		return nil, types.NotFoundf("template %s", id)
	}
	return tpl, nil
}

// canManage 全局管理员、模板管理角色或模板 admin 权限
func (s *templateService) canManage(actor *types.Actor, tpl *template.Template) bool {
	if actor.IsAdmin() || types.HasRole(actor.Roles, s.managerRoles) {
		return true
	}
	return tpl != nil && types.HasRole(actor.Roles, tpl.Permissions.Admin)
}

// assignCode 分配组织内唯一的模板编码
// 显式指定的编码被占用时返回 Conflict,自动生成的编码追加序号直到可用
func (s *templateService) assignCode(ctx context.Context, organizationID, requested, base, excludeID string) (string, error) {
	if requested != "" {
		taken, err := s.templateMgr.CodeTaken(ctx, organizationID, requested, excludeID)
		if err != nil {
			return "", err
		}
		if taken {
			return "", types.Conflictf("template code %s already exists", requested)
		}
		return requested, nil
	}

	base = codeFromName(base)
	candidate := base
	for i := 2; ; i++ {
		taken, err := s.templateMgr.CodeTaken(ctx, organizationID, candidate, excludeID)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// codeFromName 由名称生成编码: 保留字母数字与连字符,转大写
func codeFromName(name string) string {
	var b bytes.Buffer
	for _, r := range strings.ToUpper(strings.TrimSpace(name)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			if b.Len() > 0 {
				b.WriteByte('-')
			}
		}
		if b.Len() >= 48 {
			break
		}
	}
	code := strings.Trim(b.String(), "-")
	for strings.Contains(code, "--") {
		code = strings.ReplaceAll(code, "--", "-")
	}
	if code == "" || !unicode.IsLetter(rune(code[0])) {
		code = "TPL" + code
	}
	return code
}

// clearTemplateCache 清除模板所有版本的缓存
func (s *templateService) clearTemplateCache(id string) {
	prefix := id + ":"
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
		}
	}
}

func (s *templateService) audit(ctx context.Context, actor *types.Actor, action, id string, details map[string]interface{}) {
	if s.auditLogSvc == nil {
		return
	}
	if err := s.auditLogSvc.RecordAction(ctx, actor, action, ResourceTemplate, id, details); err != nil {
		s.logger.WithError(err).WithField("template_id", id).Warn("failed to record audit log")
	}
}
