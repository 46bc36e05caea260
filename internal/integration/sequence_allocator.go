package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/record-gin/internal/model"
	"github.com/mautops/record-gin/pkg/numbering"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dbSequenceAllocator 基于数据库的编号计数器
// INSERT ... ON CONFLICT DO UPDATE SET value = value + 1 在一条语句内完成读改写,
// 随后在同一事务中读取本次写入的值
type dbSequenceAllocator struct {
	db *gorm.DB
}

// NewSequenceAllocator 创建数据库编号计数器
func NewSequenceAllocator(db *gorm.DB) numbering.Allocator {
	return &dbSequenceAllocator{db: db}
}

// Next 原子递增并返回 (templateID, period) 的新值
func (a *dbSequenceAllocator) Next(ctx context.Context, templateID, period string) (int64, error) {
	var value int64
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		seq := &model.SequenceModel{TemplateID: templateID, Period: period, Value: 1, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "template_id"}, {Name: "period"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"value":      gorm.Expr("record_sequences.value + 1"),
				"updated_at": now,
			}),
		}).Create(seq).Error; err != nil {
			return err
		}

		// 行锁由上面的更新持有到事务结束,读取到的就是本次分配的值
		return tx.Model(&model.SequenceModel{}).
			Select("value").
			Where("template_id = ? AND period = ?", templateID, period).
			Row().
			Scan(&value)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}
	return value, nil
}
