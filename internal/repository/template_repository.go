package repository

import (
	"context"
	"time"

	"github.com/mautops/record-gin/internal/model"
	"gorm.io/gorm"
)

// TemplateFilter 模板列表过滤条件
type TemplateFilter struct {
	OrganizationID string
	Search         string
	Active         *bool
	IncludeDeleted bool
	SortBy         string // 已校验的列名
	Order          string // ASC/DESC
	Offset         int
	Limit          int
}

// TemplateRepository 模板仓储接口
type TemplateRepository interface {
	Create(ctx context.Context, template *model.TemplateModel) error
	FindByID(ctx context.Context, id string, version int) (*model.TemplateModel, error)
	FindByIDUnscoped(ctx context.Context, id string, version int) (*model.TemplateModel, error)
	FindLatest(ctx context.Context, filter TemplateFilter) ([]*model.TemplateModel, int64, error)
	ListVersions(ctx context.Context, id string) ([]int, error)
	CodeTaken(ctx context.Context, organizationID, code, excludeID string) (bool, error)
	SetActive(ctx context.Context, id string, active bool, updatedBy string) (int64, error)
	SoftDelete(ctx context.Context, id string) (int64, error)
}

// templateRepository 模板仓储实现
type templateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository 创建模板仓储
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// Create 保存一个模板版本
func (r *templateRepository) Create(ctx context.Context, template *model.TemplateModel) error {
	if err := template.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(template).Error
}

// FindByID 根据 ID 查找模板,version 为 0 时返回最新版本
func (r *templateRepository) FindByID(ctx context.Context, id string, version int) (*model.TemplateModel, error) {
	return r.find(r.db.WithContext(ctx), id, version)
}

// FindByIDUnscoped 同 FindByID,包含已删除模板,用于解析记录绑定的版本
func (r *templateRepository) FindByIDUnscoped(ctx context.Context, id string, version int) (*model.TemplateModel, error) {
	return r.find(r.db.WithContext(ctx).Unscoped(), id, version)
}

func (r *templateRepository) find(db *gorm.DB, id string, version int) (*model.TemplateModel, error) {
	var template model.TemplateModel
	query := db.Where("id = ?", id)

	if version > 0 {
		query = query.Where("version = ?", version)
	} else {
		// 获取最新版本
		query = query.Order("version DESC").Limit(1)
	}

	if err := query.First(&template).Error; err != nil {
		return nil, err
	}
	return &template, nil
}

// FindLatest 查询每个模板的最新版本
func (r *templateRepository) FindLatest(ctx context.Context, filter TemplateFilter) ([]*model.TemplateModel, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.TemplateModel{})
	if filter.IncludeDeleted {
		query = query.Unscoped()
	}
	query = query.Where("templates.version = (SELECT MAX(t2.version) FROM templates t2 WHERE t2.id = templates.id)")

	if filter.OrganizationID != "" {
		query = query.Where("organization_id = ?", filter.OrganizationID)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("name LIKE ? OR code LIKE ? OR description LIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortBy, order := filter.SortBy, filter.Order
	if sortBy == "" {
		sortBy = "created_at"
	}
	if order == "" {
		order = "DESC"
	}
	query = query.Order(sortBy + " " + order)
	if filter.Limit > 0 {
		query = query.Offset(filter.Offset).Limit(filter.Limit)
	}

	var templates []*model.TemplateModel
	if err := query.Find(&templates).Error; err != nil {
		return nil, 0, err
	}
	return templates, total, nil
}

// ListVersions 列出模板所有版本号
func (r *templateRepository) ListVersions(ctx context.Context, id string) ([]int, error) {
	var versions []int
	err := r.db.WithContext(ctx).Model(&model.TemplateModel{}).
		Where("id = ?", id).
		Order("version ASC").
		Pluck("version", &versions).Error
	return versions, err
}

// CodeTaken 判断组织内编码是否已被其他模板占用,已删除模板的编码仍然保留
func (r *templateRepository) CodeTaken(ctx context.Context, organizationID, code, excludeID string) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Unscoped().Model(&model.TemplateModel{}).
		Where("organization_id = ? AND code = ?", organizationID, code)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetActive 修改所有版本的启用标记,不产生新版本
func (r *templateRepository) SetActive(ctx context.Context, id string, active bool, updatedBy string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.TemplateModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"active": active, "updated_by": updatedBy, "updated_at": time.Now()})
	return result.RowsAffected, result.Error
}

// SoftDelete 软删除模板的所有版本
func (r *templateRepository) SoftDelete(ctx context.Context, id string) (int64, error) {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.TemplateModel{})
	return result.RowsAffected, result.Error
}
