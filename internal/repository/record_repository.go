package repository

import (
	"context"
	"time"

	"github.com/mautops/record-gin/internal/model"
	"gorm.io/gorm"
)

// RecordFilter 记录列表过滤条件
type RecordFilter struct {
	OrganizationID string
	TemplateID     string
	StateID        string
	CreatedBy      string
	Locked         *bool
	Search         string // 按编码模糊匹配
	SortBy         string // 已校验的列名
	Order          string // ASC/DESC
	Offset         int
	Limit          int
}

// StateCount 按状态分组的记录数
type StateCount struct {
	StateID string
	Count   int64
}

// RecordRepository 记录仓储接口
type RecordRepository interface {
	Create(ctx context.Context, record *model.RecordModel) error
	FindByID(ctx context.Context, id string) (*model.RecordModel, error)
	CompareAndSwap(ctx context.Context, record *model.RecordModel, expectedRevision int) (bool, error)
	List(ctx context.Context, filter RecordFilter) ([]*model.RecordModel, int64, error)
	CountByState(ctx context.Context, organizationID, templateID string) ([]StateCount, error)
	FindAlertDue(ctx context.Context, now time.Time, limit int) ([]*model.RecordModel, error)
	FindBreached(ctx context.Context, now time.Time, limit int) ([]*model.RecordModel, error)
	MarkAlertSent(ctx context.Context, id string, revision int, at time.Time) (bool, error)
	MarkBreached(ctx context.Context, id string, revision int, at time.Time) (bool, error)
}

// recordRepository 记录仓储实现
type recordRepository struct {
	db *gorm.DB
}

// NewRecordRepository 创建记录仓储
func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &recordRepository{db: db}
}

// Create 保存新记录
func (r *recordRepository) Create(ctx context.Context, record *model.RecordModel) error {
	if err := record.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByID 根据 ID 查找记录,已归档记录不返回
func (r *recordRepository) FindByID(ctx context.Context, id string) (*model.RecordModel, error) {
	var record model.RecordModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// CompareAndSwap 仅当数据库中的版本号等于 expectedRevision 时写入,并将版本号加一
// 返回 false 表示记录已被其他请求修改
func (r *recordRepository) CompareAndSwap(ctx context.Context, record *model.RecordModel, expectedRevision int) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.RecordModel{}).
		Where("id = ? AND revision = ?", record.ID, expectedRevision).
		Updates(map[string]interface{}{
			"state_id":          record.StateID,
			"locked":            record.Locked,
			"revision":          expectedRevision + 1,
			"data":              record.Data,
			"state_entered_at":  record.StateEnteredAt,
			"due_at":            record.DueAt,
			"alert_at":          record.AlertAt,
			"sla_alert_sent_at": record.SLAAlertSentAt,
			"sla_breached_at":   record.SLABreachedAt,
			"updated_by":        record.UpdatedBy,
			"updated_at":        record.UpdatedAt,
			"deleted_at":        record.DeletedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	record.Revision = expectedRevision + 1
	return true, nil
}

// List 分页查询记录
func (r *recordRepository) List(ctx context.Context, filter RecordFilter) ([]*model.RecordModel, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.RecordModel{})
	if filter.OrganizationID != "" {
		query = query.Where("organization_id = ?", filter.OrganizationID)
	}
	if filter.TemplateID != "" {
		query = query.Where("template_id = ?", filter.TemplateID)
	}
	if filter.StateID != "" {
		query = query.Where("state_id = ?", filter.StateID)
	}
	if filter.CreatedBy != "" {
		query = query.Where("created_by = ?", filter.CreatedBy)
	}
	if filter.Locked != nil {
		query = query.Where("locked = ?", *filter.Locked)
	}
	if filter.Search != "" {
		query = query.Where("code LIKE ?", "%"+filter.Search+"%")
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

	var records []*model.RecordModel
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// CountByState 统计模板下各状态的记录数
func (r *recordRepository) CountByState(ctx context.Context, organizationID, templateID string) ([]StateCount, error) {
	var counts []StateCount
	err := r.db.WithContext(ctx).Model(&model.RecordModel{}).
		Select("state_id, COUNT(*) AS count").
		Where("organization_id = ? AND template_id = ?", organizationID, templateID).
		Group("state_id").
		Scan(&counts).Error
	return counts, err
}

// FindAlertDue 查找已到预警时间但尚未预警的记录
func (r *recordRepository) FindAlertDue(ctx context.Context, now time.Time, limit int) ([]*model.RecordModel, error) {
	var records []*model.RecordModel
	err := r.db.WithContext(ctx).
		Where("alert_at IS NOT NULL AND alert_at <= ? AND sla_alert_sent_at IS NULL AND locked = ?", now, false).
		Order("alert_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// FindBreached 查找已超期但尚未标记的记录
func (r *recordRepository) FindBreached(ctx context.Context, now time.Time, limit int) ([]*model.RecordModel, error) {
	var records []*model.RecordModel
	err := r.db.WithContext(ctx).
		Where("due_at IS NOT NULL AND due_at <= ? AND sla_breached_at IS NULL AND locked = ?", now, false).
		Order("due_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// MarkAlertSent 标记预警已发送
// 以版本号为条件,记录在查询后被修改则放弃,由下一轮重新判断
func (r *recordRepository) MarkAlertSent(ctx context.Context, id string, revision int, at time.Time) (bool, error) {
	return r.markSLA(ctx, "sla_alert_sent_at", id, revision, at)
}

// MarkBreached 标记已超期,条件同 MarkAlertSent
func (r *recordRepository) MarkBreached(ctx context.Context, id string, revision int, at time.Time) (bool, error) {
	return r.markSLA(ctx, "sla_breached_at", id, revision, at)
}

func (r *recordRepository) markSLA(ctx context.Context, column, id string, revision int, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.RecordModel{}).
		Where("id = ? AND revision = ? AND "+column+" IS NULL", id, revision).
		Updates(map[string]interface{}{
			column:     at,
			"revision": gorm.Expr("revision + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
