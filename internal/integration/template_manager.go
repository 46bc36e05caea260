package integration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mautops/record-gin/internal/model"
	"github.com/mautops/record-gin/internal/repository"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/mautops/record-gin/pkg/types"
	"gorm.io/gorm"
)

// TemplateManager 模板持久化,每次结构修改保存为新的不可变版本行
// 版本行与历史条目在同一事务中写入
type TemplateManager interface {
	Create(ctx context.Context, tpl *template.Template, entry types.HistoryEntry) error
	Get(ctx context.Context, id string, version int) (*template.Template, error)
	Resolve(ctx context.Context, id string, version int) (*template.Template, error)
	Update(ctx context.Context, tpl *template.Template, entry types.HistoryEntry) error
	SetActive(ctx context.Context, id string, active bool, entry types.HistoryEntry) error
	Delete(ctx context.Context, id string, entry types.HistoryEntry) error
	ListVersions(ctx context.Context, id string) ([]int, error)
	List(ctx context.Context, filter repository.TemplateFilter) ([]*template.Template, int64, error)
	History(ctx context.Context, id string) ([]types.HistoryEntry, error)
	CodeTaken(ctx context.Context, organizationID, code, excludeID string) (bool, error)
}

// dbTemplateManager 基于数据库的模板管理器
type dbTemplateManager struct {
	db *gorm.DB
}

// NewTemplateManager 创建模板管理器
func NewTemplateManager(db *gorm.DB) TemplateManager {
	return &dbTemplateManager{db: db}
}

// Create 保存版本 1 并追加创建历史
func (m *dbTemplateManager) Create(ctx context.Context, tpl *template.Template, entry types.HistoryEntry) error {
	if tpl.Version != 1 {
		return fmt.Errorf("new template must start at version 1, got %d", tpl.Version)
	}
	return m.saveVersion(ctx, tpl, entry)
}

// Update 保存新版本行,版本号由调用方设置为当前最新版本 + 1
// 并发编辑同一版本时主键冲突,后提交的一方得到 Conflict
func (m *dbTemplateManager) Update(ctx context.Context, tpl *template.Template, entry types.HistoryEntry) error {
	if tpl.Version < 2 {
		return fmt.Errorf("template update must produce version >= 2, got %d", tpl.Version)
	}
	return m.saveVersion(ctx, tpl, entry)
}

func (m *dbTemplateManager) saveVersion(ctx context.Context, tpl *template.Template, entry types.HistoryEntry) error {
	// 1. 序列化模板数据
	tm, err := templateToModel(tpl)
	if err != nil {
		return err
	}

	// 2. 版本行与历史在同一事务中写入
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewTemplateRepository(tx).Create(ctx, tm); err != nil {
			return err
		}
		return appendHistory(ctx, tx, model.HistoryResourceTemplate, tpl.ID, entry)
	})
	return translate(err, "template %s version %d already exists", tpl.ID, tpl.Version)
}

// Get 获取模板,version 为 0 时返回最新版本,已删除模板返回 NotFound
func (m *dbTemplateManager) Get(ctx context.Context, id string, version int) (*template.Template, error) {
	tm, err := repository.NewTemplateRepository(m.db).FindByID(ctx, id, version)
	if err != nil {
		return nil, translate(err, "template %s", id)
	}
	return templateFromModel(tm)
}

// Resolve 获取模板版本,包含已删除模板
// 已有记录绑定的版本在模板删除后仍需可解析
func (m *dbTemplateManager) Resolve(ctx context.Context, id string, version int) (*template.Template, error) {
	tm, err := repository.NewTemplateRepository(m.db).FindByIDUnscoped(ctx, id, version)
	if err != nil {
		return nil, translate(err, "template %s version %d", id, version)
	}
	return templateFromModel(tm)
}

// SetActive 修改启用标记,不产生新版本
func (m *dbTemplateManager) SetActive(ctx context.Context, id string, active bool, entry types.HistoryEntry) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := repository.NewTemplateRepository(tx).SetActive(ctx, id, active, entry.Actor)
		if err != nil {
			return err
		}
		if rows == 0 {
			return types.NotFoundf("template %s", id)
		}
		return translate(appendHistory(ctx, tx, model.HistoryResourceTemplate, id, entry), "concurrent history append on template %s", id)
	})
}

// Delete 软删除模板所有版本
func (m *dbTemplateManager) Delete(ctx context.Context, id string, entry types.HistoryEntry) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := repository.NewTemplateRepository(tx).SoftDelete(ctx, id)
		if err != nil {
			return err
		}
		if rows == 0 {
			return types.NotFoundf("template %s", id)
		}
		return translate(appendHistory(ctx, tx, model.HistoryResourceTemplate, id, entry), "concurrent history append on template %s", id)
	})
}

// ListVersions 列出模板版本
func (m *dbTemplateManager) ListVersions(ctx context.Context, id string) ([]int, error) {
	versions, err := repository.NewTemplateRepository(m.db).ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, types.NotFoundf("template %s", id)
	}
	return versions, nil
}

// List 查询每个模板的最新版本
func (m *dbTemplateManager) List(ctx context.Context, filter repository.TemplateFilter) ([]*template.Template, int64, error) {
	models, total, err := repository.NewTemplateRepository(m.db).FindLatest(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*template.Template, 0, len(models))
	for _, tm := range models {
		tpl, err := templateFromModel(tm)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, tpl)
	}
	return out, total, nil
}

// History 模板历史,按序号升序
func (m *dbTemplateManager) History(ctx context.Context, id string) ([]types.HistoryEntry, error) {
	models, err := repository.NewHistoryRepository(m.db).FindByResource(ctx, model.HistoryResourceTemplate, id)
	if err != nil {
		return nil, err
	}
	return historyFromModels(models), nil
}

// CodeTaken 组织内编码是否已被占用
func (m *dbTemplateManager) CodeTaken(ctx context.Context, organizationID, code, excludeID string) (bool, error) {
	return repository.NewTemplateRepository(m.db).CodeTaken(ctx, organizationID, code, excludeID)
}

// appendHistory 在事务内分配序号并追加历史
func appendHistory(ctx context.Context, tx *gorm.DB, resourceType, resourceID string, entry types.HistoryEntry) error {
	repo := repository.NewHistoryRepository(tx)
	seq, err := repo.NextSequence(ctx, resourceType, resourceID)
	if err != nil {
		return err
	}
	entry.Sequence = seq
	return repo.Append(ctx, historyToModel(resourceType, resourceID, entry))
}

// templateToModel 模板转换为数据模型,Data 保存完整模板
func templateToModel(tpl *template.Template) (*model.TemplateModel, error) {
	data, err := json.Marshal(tpl)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return &model.TemplateModel{
		ID:             tpl.ID,
		Version:        tpl.Version,
		Code:           tpl.Code,
		OrganizationID: tpl.OrganizationID,
		Name:           tpl.Name,
		Description:    tpl.Description,
		Active:         tpl.Active,
		Data:           data,
		CreatedAt:      tpl.CreatedAt,
		UpdatedAt:      tpl.UpdatedAt,
		CreatedBy:      tpl.CreatedBy,
		UpdatedBy:      tpl.UpdatedBy,
	}, nil
}

// templateFromModel 反序列化模板,列上的启用/删除/审计字段优先
func templateFromModel(tm *model.TemplateModel) (*template.Template, error) {
	var tpl template.Template
	if err := json.Unmarshal(tm.Data, &tpl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", tm.ID, err)
	}
	tpl.ID = tm.ID
	tpl.Version = tm.Version
	tpl.Code = tm.Code
	tpl.OrganizationID = tm.OrganizationID
	tpl.Active = tm.Active
	tpl.Deleted = tm.DeletedAt.Valid
	tpl.UpdatedBy = tm.UpdatedBy
	tpl.UpdatedAt = tm.UpdatedAt
	return &tpl, nil
}
