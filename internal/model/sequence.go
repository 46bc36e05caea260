package model

import "time"

// SequenceModel 编号计数器,按 (template_id, period) 原子递增
type SequenceModel struct {
	TemplateID string    `gorm:"primaryKey;type:varchar(64)"`
	Period     string    `gorm:"primaryKey;type:varchar(16)"` // 空串表示不分周期
	Value      int64     `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName 指定表名
func (SequenceModel) TableName() string {
	return "record_sequences"
}
