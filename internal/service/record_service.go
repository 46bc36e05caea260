package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mautops/record-gin/internal/integration"
	"github.com/mautops/record-gin/internal/metrics"
	"github.com/mautops/record-gin/internal/repository"
	"github.com/mautops/record-gin/internal/storage"
	"github.com/mautops/record-gin/internal/utils"
	"github.com/mautops/record-gin/pkg/numbering"
	"github.com/mautops/record-gin/pkg/record"
	"github.com/mautops/record-gin/pkg/statemachine"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/sirupsen/logrus"
)

// 并发修改时可交换操作（评论、检查项、附件、字段值）的重放次数
const commutativeAttempts = 3

// 编码冲突时重新分配的次数
const allocateAttempts = 3

// RecordService 记录服务接口
type RecordService interface {
	Create(ctx context.Context, actor *types.Actor, templateID string, values map[string]interface{}) (*record.Record, error)
	Get(ctx context.Context, actor *types.Actor, id string) (*record.Record, error)
	List(ctx context.Context, actor *types.Actor, filter *RecordListFilter) (*RecordListResponse, error)
	Board(ctx context.Context, actor *types.Actor, templateID string, perState int) (*Board, error)
	NextStates(ctx context.Context, actor *types.Actor, id string) ([]*statemachine.State, error)
	History(ctx context.Context, actor *types.Actor, id string) ([]types.HistoryEntry, error)
	UpdateValues(ctx context.Context, actor *types.Actor, id string, values map[string]interface{}) (*record.Record, error)
	Transition(ctx context.Context, actor *types.Actor, id, targetStateID string, values map[string]interface{}, note string) (*record.Record, error)
	AddComment(ctx context.Context, actor *types.Actor, id, text string) (*record.Comment, error)
	UpdateChecklist(ctx context.Context, actor *types.Actor, id string, updates []record.ChecklistUpdate) (*record.Record, error)
	UploadAttachment(ctx context.Context, actor *types.Actor, id string, req record.AttachmentRequest, body io.Reader) (*record.Attachment, error)
	ToggleLock(ctx context.Context, actor *types.Actor, id, note string) (*record.Record, error)
	Clone(ctx context.Context, actor *types.Actor, id string) (*record.Record, error)
	Archive(ctx context.Context, actor *types.Actor, id string) error
	Export(ctx context.Context, actor *types.Actor, templateID string, w io.Writer) (int, error)
}

// RecordListFilter 记录列表查询过滤器
type RecordListFilter struct {
	Page       int
	PageSize   int
	TemplateID string
	StateID    string
	CreatedBy  string
	Locked     *bool
	Search     string
	SortBy     string
	Order      string
}

// RecordListResponse 记录列表响应
type RecordListResponse struct {
	Data       []*record.Record `json:"data"`
	Pagination PaginationInfo   `json:"pagination"`
}

// Board 看板视图,按状态顺序分列
type Board struct {
	TemplateID string        `json:"template_id"`
	Version    int           `json:"version"`
	Columns    []BoardColumn `json:"columns"`
}

// BoardColumn 看板中的一个状态列
type BoardColumn struct {
	State   *statemachine.State `json:"state"`
	Count   int64               `json:"count"`
	Records []*record.Record    `json:"records"`
}

// RecordServiceOptions 记录服务参数
type RecordServiceOptions struct {
	NumberingBackend string // 用于指标标签
	AttachmentLimits record.AttachmentLimits
	StorageKeyPrefix string
}

// recordService 记录服务实现
type recordService struct {
	recordMgr   integration.RecordManager
	templateSvc TemplateService
	numbering   *numbering.Service
	storage     storage.FileStorage
	notifier    integration.Notifier
	auditLogSvc AuditLogService
	opts        RecordServiceOptions
	logger      logrus.FieldLogger
	now         func() time.Time
}

// NewRecordService 创建记录服务,notifier 与 fileStorage 可以为 nil
func NewRecordService(
	recordMgr integration.RecordManager,
	templateSvc TemplateService,
	numberingSvc *numbering.Service,
	fileStorage storage.FileStorage,
	notifier integration.Notifier,
	auditLogSvc AuditLogService,
	opts RecordServiceOptions,
	logger logrus.FieldLogger,
) RecordService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.NumberingBackend == "" {
		opts.NumberingBackend = "database"
	}
	return &recordService{
		recordMgr:   recordMgr,
		templateSvc: templateSvc,
		numbering:   numberingSvc,
		storage:     fileStorage,
		notifier:    notifier,
		auditLogSvc: auditLogSvc,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

// Create 基于模板最新版本创建记录
// 校验全部通过后才分配编码,失败的创建不消耗序号
func (s *recordService) Create(ctx context.Context, actor *types.Actor, templateID string, values map[string]interface{}) (*record.Record, error) {
	// 1. 获取当前模板版本
	tpl, err := s.templateSvc.Resolve(ctx, templateID, 0)
	if err != nil {
		return nil, err
	}
	if tpl.Deleted || tpl.OrganizationID != actor.OrganizationID {
		return nil, types.NotFoundf("template %s", templateID)
	}
	if !tpl.Active {
		return nil, types.Conflictf("template %s is inactive", tpl.Code)
	}

	// 2. 权限与字段校验
	r, err := record.New(tpl, values, actor, s.now())
	if err != nil {
		return nil, err
	}

	// 3. 分配编码并保存,编码被占用（如手工修改过计数器）时重新分配
	for attempt := 1; ; attempt++ {
		code, err := s.numbering.Allocate(ctx, tpl.ID, tpl.Config.Numbering, tpl.Code)
		metrics.RecordAllocation(s.opts.NumberingBackend, err)
		if err != nil {
			return nil, err
		}
		r.Code = code

		err = s.recordMgr.Create(ctx, r)
		if err == nil {
			break
		}
		if !errors.Is(err, types.ErrConflict) || attempt >= allocateAttempts {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{"template_id": tpl.ID, "code": code}).Warn("record code already taken, reallocating")
	}

	s.audit(ctx, actor, "create", r.ID, map[string]interface{}{"code": r.Code, "template_id": tpl.ID, "version": tpl.Version})
	s.notify(ctx, integration.EventRecordCreated, r, "", actor.ID, nil)
	metrics.RecordCreated(tpl.Code)
	return s.present(tpl, r, actor), nil
}

// Get 获取记录,隐藏调用者无权查看的字段
func (s *recordService) Get(ctx context.Context, actor *types.Actor, id string) (*record.Record, error) {
	r, tpl, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.present(tpl, r, actor), nil
}

// List 分页查询当前组织的记录
func (s *recordService) List(ctx context.Context, actor *types.Actor, filter *RecordListFilter) (*RecordListResponse, error) {
	if filter == nil {
		filter = &RecordListFilter{}
	}
	page, pageSize, offset := utils.NormalizePage(filter.Page, filter.PageSize)
	sortBy, order, err := utils.NormalizeSort(filter.SortBy, filter.Order, utils.RecordSortFields)
	if err != nil {
		return nil, types.NewValidationError([]types.Violation{{Field: "sort_by", Rule: "options", Message: err.Error()}})
	}

	records, total, err := s.recordMgr.List(ctx, repository.RecordFilter{
		OrganizationID: actor.OrganizationID,
		TemplateID:     filter.TemplateID,
		StateID:        filter.StateID,
		CreatedBy:      filter.CreatedBy,
		Locked:         filter.Locked,
		Search:         filter.Search,
		SortBy:         sortBy,
		Order:          order,
		Offset:         offset,
		Limit:          pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	// 只返回有查看权限的模板下的记录
	data := make([]*record.Record, 0, len(records))
	for _, r := range records {
		tpl, err := s.templateSvc.Resolve(ctx, r.TemplateID, r.TemplateVersion)
		if err != nil {
			s.logger.WithError(err).WithField("record_id", r.ID).Warn("template of record not resolvable")
			continue
		}
		if !s.canView(actor, tpl) {
			continue
		}
		data = append(data, s.present(tpl, r, actor))
	}

	return &RecordListResponse{
		Data: data,
		Pagination: PaginationInfo{
			Page:      page,
			PageSize:  pageSize,
			Total:     total,
			TotalPage: utils.TotalPages(total, pageSize),
		},
	}, nil
}

// Board 按模板当前版本的状态顺序分组记录
func (s *recordService) Board(ctx context.Context, actor *types.Actor, templateID string, perState int) (*Board, error) {
	tpl, err := s.templateSvc.Get(ctx, actor, templateID, 0)
	if err != nil {
		return nil, err
	}
	if perState <= 0 {
		perState = utils.DefaultPageSize
	}
	if perState > utils.MaxPageSize {
		perState = utils.MaxPageSize
	}

	counts, err := s.recordMgr.CountByState(ctx, actor.OrganizationID, tpl.ID)
	if err != nil {
		return nil, err
	}

	board := &Board{TemplateID: tpl.ID, Version: tpl.Version, Columns: make([]BoardColumn, 0, len(tpl.States))}
	for _, st := range tpl.OrderedStates() {
		col := BoardColumn{State: st, Count: counts[st.ID], Records: make([]*record.Record, 0)}
		if col.Count > 0 {
			records, _, err := s.recordMgr.List(ctx, repository.RecordFilter{
				OrganizationID: actor.OrganizationID,
				TemplateID:     tpl.ID,
				StateID:        st.ID,
				SortBy:         "updated_at",
				Order:          "DESC",
				Limit:          perState,
			})
			if err != nil {
				return nil, err
			}
			for _, r := range records {
				rt, err := s.templateSvc.Resolve(ctx, r.TemplateID, r.TemplateVersion)
				if err != nil {
					continue
				}
				col.Records = append(col.Records, s.present(rt, r, actor))
			}
		}
		board.Columns = append(board.Columns, col)
	}
	return board, nil
}

// NextStates 调用者可以执行的迁移目标
func (s *recordService) NextStates(ctx context.Context, actor *types.Actor, id string) ([]*statemachine.State, error) {
	r, tpl, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return r.NextStates(tpl, actor.Roles), nil
}

// History 记录历史
func (s *recordService) History(ctx context.Context, actor *types.Actor, id string) ([]types.HistoryEntry, error) {
	r, _, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return r.History, nil
}

// UpdateValues 在当前状态下修改字段值
func (s *recordService) UpdateValues(ctx context.Context, actor *types.Actor, id string, values map[string]interface{}) (*record.Record, error) {
	var changed []string
	r, tpl, err := s.mutate(ctx, actor, id, commutativeAttempts, func(r *record.Record, tpl *template.Template) error {
		var err error
		changed, err = r.UpdateValues(tpl, values, actor, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.audit(ctx, actor, "update", r.ID, map[string]interface{}{"changed": changed})
	}
	return s.present(tpl, r, actor), nil
}

// Transition 执行状态迁移
// 并发迁移同一记录时只有一个成功,其余得到 Conflict,不做重放
func (s *recordService) Transition(ctx context.Context, actor *types.Actor, id, targetStateID string, values map[string]interface{}, note string) (*record.Record, error) {
	var from string
	r, tpl, err := s.mutate(ctx, actor, id, 1, func(r *record.Record, tpl *template.Template) error {
		from = r.StateID
		return r.Transition(tpl, targetStateID, values, actor, note, s.now())
	})
	if err != nil {
		metrics.RecordTransition(transitionResult(err))
		return nil, err
	}
	metrics.RecordTransition("success")

	s.audit(ctx, actor, "transition", r.ID, map[string]interface{}{"from": from, "to": r.StateID, "note": note})
	s.notify(ctx, integration.EventRecordTransitioned, r, from, actor.ID, map[string]interface{}{"note": note})
	return s.present(tpl, r, actor), nil
}

// AddComment 追加评论
func (s *recordService) AddComment(ctx context.Context, actor *types.Actor, id, text string) (*record.Comment, error) {
	var c *record.Comment
	r, _, err := s.mutate(ctx, actor, id, commutativeAttempts, func(r *record.Record, tpl *template.Template) error {
		var err error
		c, err = r.AddComment(tpl, text, actor, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "comment", r.ID, map[string]interface{}{"comment_id": c.ID})
	return c, nil
}

// UpdateChecklist 修改检查项
func (s *recordService) UpdateChecklist(ctx context.Context, actor *types.Actor, id string, updates []record.ChecklistUpdate) (*record.Record, error) {
	r, tpl, err := s.mutate(ctx, actor, id, commutativeAttempts, func(r *record.Record, tpl *template.Template) error {
		return r.UpdateChecklist(tpl, updates, actor, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "checklist", r.ID, map[string]interface{}{"items": len(updates)})
	return s.present(tpl, r, actor), nil
}

// UploadAttachment 检查通过后保存文件并登记附件
// 登记失败时删除已保存的文件
func (s *recordService) UploadAttachment(ctx context.Context, actor *types.Actor, id string, req record.AttachmentRequest, body io.Reader) (*record.Attachment, error) {
	if s.storage == nil {
		return nil, types.Conflictf("file storage is not configured")
	}

	// 1. 预检查
	r, tpl, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	att, err := r.PrepareAttachment(tpl, req, s.opts.AttachmentLimits, actor, s.now())
	if err != nil {
		return nil, err
	}

	// 2. 保存文件
	key := storage.AttachmentKey(s.opts.StorageKeyPrefix, r.OrganizationID, r.ID, att.ID, att.FileName)
	ref, err := s.storage.Put(ctx, key, body, att.Size, att.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store attachment: %w", err)
	}
	att.StorageRef = ref

	// 3. 登记附件,期间记录可能已被锁定,重新检查
	_, _, err = s.mutate(ctx, actor, id, commutativeAttempts, func(r *record.Record, tpl *template.Template) error {
		if _, err := r.PrepareAttachment(tpl, req, s.opts.AttachmentLimits, actor, att.UploadedAt); err != nil {
			return err
		}
		r.Attach(att)
		return nil
	})
	if err != nil {
		if derr := s.storage.Delete(context.Background(), ref); derr != nil {
			s.logger.WithError(derr).WithField("ref", ref).Warn("failed to remove orphaned attachment")
		}
		return nil, err
	}

	s.audit(ctx, actor, "attach", id, map[string]interface{}{"attachment_id": att.ID, "file_name": att.FileName, "size": att.Size})
	return att, nil
}

// ToggleLock 管理员锁定或解锁记录
func (s *recordService) ToggleLock(ctx context.Context, actor *types.Actor, id, note string) (*record.Record, error) {
	r, tpl, err := s.mutate(ctx, actor, id, 1, func(r *record.Record, tpl *template.Template) error {
		return r.ToggleLock(tpl, actor, note, s.now())
	})
	if err != nil {
		return nil, err
	}

	eventType, action := integration.EventRecordUnlocked, "unlock"
	if r.Locked {
		eventType, action = integration.EventRecordLocked, "lock"
	}
	s.audit(ctx, actor, action, r.ID, map[string]interface{}{"note": note})
	s.notify(ctx, eventType, r, "", actor.ID, map[string]interface{}{"note": note})
	return s.present(tpl, r, actor), nil
}

// Clone 复制记录,使用源记录的模板版本,编码重新分配
func (s *recordService) Clone(ctx context.Context, actor *types.Actor, id string) (*record.Record, error) {
	src, tpl, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	latest, err := s.templateSvc.Resolve(ctx, tpl.ID, 0)
	if err != nil {
		return nil, err
	}
	if latest.Deleted {
		return nil, types.NotFoundf("template %s", tpl.ID)
	}
	if !latest.Active {
		return nil, types.Conflictf("template %s is inactive", latest.Code)
	}

	r, err := record.CloneRecord(src, tpl, actor, s.now())
	if err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		code, err := s.numbering.Allocate(ctx, tpl.ID, tpl.Config.Numbering, tpl.Code)
		metrics.RecordAllocation(s.opts.NumberingBackend, err)
		if err != nil {
			return nil, err
		}
		r.Code = code
		err = s.recordMgr.Create(ctx, r)
		if err == nil {
			break
		}
		if !errors.Is(err, types.ErrConflict) || attempt >= allocateAttempts {
			return nil, err
		}
	}

	s.audit(ctx, actor, "clone", r.ID, map[string]interface{}{"source_id": src.ID, "code": r.Code})
	s.notify(ctx, integration.EventRecordCreated, r, "", actor.ID, map[string]interface{}{"cloned_from": src.Code})
	metrics.RecordCreated(tpl.Code)
	return s.present(tpl, r, actor), nil
}

// Archive 归档记录,锁定的记录也可以归档
func (s *recordService) Archive(ctx context.Context, actor *types.Actor, id string) error {
	r, _, err := s.mutate(ctx, actor, id, commutativeAttempts, func(r *record.Record, tpl *template.Template) error {
		return r.Archive(tpl, actor, s.now())
	})
	if err != nil {
		return err
	}
	s.audit(ctx, actor, "archive", r.ID, map[string]interface{}{"code": r.Code})
	return nil
}

// load 读取记录及其绑定的模板版本,校验组织与查看权限
func (s *recordService) load(ctx context.Context, actor *types.Actor, id string) (*record.Record, *template.Template, error) {
	r, err := s.recordMgr.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if r.OrganizationID != actor.OrganizationID {
		return nil, nil, types.NotFoundf("record %s", id)
	}
	tpl, err := s.templateSvc.Resolve(ctx, r.TemplateID, r.TemplateVersion)
	if err != nil {
		return nil, nil, err
	}
	if !s.canView(actor, tpl) {
		return nil, nil, types.PermissionDeniedf("roles cannot view records of template %s", tpl.Code)
	}
	return r, tpl, nil
}

// mutate 以比较交换方式修改记录,fn 在每次重放时拿到最新记录
func (s *recordService) mutate(ctx context.Context, actor *types.Actor, id string, attempts int, fn func(r *record.Record, tpl *template.Template) error) (*record.Record, *template.Template, error) {
	var tpl *template.Template
	r, err := s.recordMgr.Mutate(ctx, id, attempts, func(r *record.Record) error {
		if r.OrganizationID != actor.OrganizationID {
			return types.NotFoundf("record %s", id)
		}
		t, err := s.templateSvc.Resolve(ctx, r.TemplateID, r.TemplateVersion)
		if err != nil {
			return err
		}
		if !s.canView(actor, t) {
			return types.PermissionDeniedf("roles cannot view records of template %s", t.Code)
		}
		tpl = t
		return fn(r, t)
	})
	if err != nil {
		return nil, nil, err
	}
	return r, tpl, nil
}

func (s *recordService) canView(actor *types.Actor, tpl *template.Template) bool {
	return record.CanAdminister(tpl, actor) || types.Permits(actor.Roles, tpl.Permissions.View)
}

// present 管理员看到全部字段,其他调用者按字段查看角色过滤
func (s *recordService) present(tpl *template.Template, r *record.Record, actor *types.Actor) *record.Record {
	if record.CanAdminister(tpl, actor) {
		return r
	}
	return r.VisibleTo(tpl, actor.Roles)
}

// notify 发送通知,失败只记录日志,不影响已提交的操作
func (s *recordService) notify(ctx context.Context, eventType string, r *record.Record, from, actorID string, data map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	evt := &integration.Event{
		Type:            eventType,
		RecordID:        r.ID,
		RecordCode:      r.Code,
		TemplateID:      r.TemplateID,
		TemplateVersion: r.TemplateVersion,
		OrganizationID:  r.OrganizationID,
		StateID:         r.StateID,
		FromStateID:     from,
		Actor:           actorID,
		Timestamp:       s.now(),
		Data:            data,
	}
	if err := s.notifier.Notify(ctx, evt); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"record_id": r.ID, "type": eventType}).Error("failed to queue notification")
	}
}

func (s *recordService) audit(ctx context.Context, actor *types.Actor, action, id string, details map[string]interface{}) {
	if s.auditLogSvc == nil {
		return
	}
	if err := s.auditLogSvc.RecordAction(ctx, actor, action, ResourceRecord, id, details); err != nil {
		s.logger.WithError(err).WithField("record_id", id).Warn("failed to record audit log")
	}
}

// transitionResult 迁移失败原因,用作指标标签
func transitionResult(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, types.ErrPermissionDenied):
		return "denied"
	case errors.Is(err, types.ErrLockedRecord):
		return "locked"
	case errors.Is(err, types.ErrValidation):
		return "validation"
	case errors.Is(err, types.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
