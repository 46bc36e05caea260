package model

import (
	"errors"
	"time"
)

// 历史所属资源类型
const (
	HistoryResourceTemplate = "template"
	HistoryResourceRecord   = "record"
)

// HistoryModel 模板与记录共用的追加式历史
// (resource_type, resource_id, sequence) 唯一,并发追加同一序号时只有一方成功
type HistoryModel struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)"`
	ResourceType string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_history_resource_seq,priority:1"`
	ResourceID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_history_resource_seq,priority:2"`
	Sequence     int       `gorm:"not null;uniqueIndex:idx_history_resource_seq,priority:3"`
	Kind         string    `gorm:"type:varchar(32);not null"`
	Actor        string    `gorm:"type:varchar(64);not null"`
	FromRef      string    `gorm:"type:varchar(64)"`
	ToRef        string    `gorm:"type:varchar(64)"`
	Note         string    `gorm:"type:text"`
	Diff         string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (HistoryModel) TableName() string {
	return "history"
}

// Validate 验证历史模型
func (hm *HistoryModel) Validate() error {
	if hm.ID == "" {
		return errors.New("history ID is required")
	}
	if hm.ResourceType != HistoryResourceTemplate && hm.ResourceType != HistoryResourceRecord {
		return errors.New("history resource type is invalid")
	}
	if hm.ResourceID == "" {
		return errors.New("resource ID is required")
	}
	if hm.Sequence < 1 {
		return errors.New("history sequence must be positive")
	}
	if hm.Actor == "" {
		return errors.New("actor is required")
	}
	return nil
}
