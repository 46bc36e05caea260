package repository

import (
	"context"
	"database/sql"

	"github.com/mautops/record-gin/internal/model"
	"gorm.io/gorm"
)

// HistoryRepository 历史仓储接口,只追加不修改
type HistoryRepository interface {
	Append(ctx context.Context, entries ...*model.HistoryModel) error
	FindByResource(ctx context.Context, resourceType, resourceID string) ([]*model.HistoryModel, error)
	NextSequence(ctx context.Context, resourceType, resourceID string) (int, error)
}

// historyRepository 历史仓储实现
type historyRepository struct {
	db *gorm.DB
}

// NewHistoryRepository 创建历史仓储
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

// Append 追加历史条目
func (r *historyRepository) Append(ctx context.Context, entries ...*model.HistoryModel) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return r.db.WithContext(ctx).Create(entries).Error
}

// FindByResource 按序号返回资源的全部历史
func (r *historyRepository) FindByResource(ctx context.Context, resourceType, resourceID string) ([]*model.HistoryModel, error) {
	var entries []*model.HistoryModel
	err := r.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("sequence ASC").
		Find(&entries).Error
	return entries, err
}

// NextSequence 返回下一个历史序号
func (r *historyRepository) NextSequence(ctx context.Context, resourceType, resourceID string) (int, error) {
	var maxSeq sql.NullInt64
	row := r.db.WithContext(ctx).Model(&model.HistoryModel{}).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Select("MAX(sequence)").
		Row()
	if err := row.Scan(&maxSeq); err != nil {
		return 0, err
	}
	return int(maxSeq.Int64) + 1, nil
}
