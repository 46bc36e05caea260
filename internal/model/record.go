package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecordModel 记录数据模型
type RecordModel struct {
	ID              string         `gorm:"primaryKey;type:varchar(64)"`
	Code            string         `gorm:"type:varchar(96);not null;uniqueIndex:idx_records_template_code,priority:2"`
	TemplateID      string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_records_template_code,priority:1;index:idx_records_template_state,priority:1"`
	TemplateVersion int            `gorm:"not null"` // 创建时的模板版本快照
	OrganizationID  string         `gorm:"type:varchar(64);not null;index"`
	StateID         string         `gorm:"type:varchar(64);not null;index:idx_records_template_state,priority:2"`
	Locked          bool           `gorm:"not null"`
	Revision        int            `gorm:"not null"` // 乐观并发版本号
	Data            datatypes.JSON `gorm:"not null"` // 字段值、评论、附件、检查项
	StateEnteredAt  time.Time      `gorm:"not null"`
	DueAt           *time.Time     `gorm:"index"`
	AlertAt         *time.Time     `gorm:"index"`
	SLAAlertSentAt  *time.Time
	SLABreachedAt   *time.Time
	CreatedBy       string         `gorm:"type:varchar(64);index"`
	UpdatedBy       string         `gorm:"type:varchar(64)"`
	CreatedAt       time.Time      `gorm:"not null;index"`
	UpdatedAt       time.Time      `gorm:"not null"`
	DeletedAt       gorm.DeletedAt `gorm:"index"` // 归档时间
}

// TableName 指定表名
func (RecordModel) TableName() string {
	return "records"
}

// Validate 验证记录模型
func (rm *RecordModel) Validate() error {
	if rm.ID == "" {
		return errors.New("record ID is required")
	}
	if rm.Code == "" {
		return errors.New("record code is required")
	}
	if rm.TemplateID == "" {
		return errors.New("template ID is required")
	}
	if rm.StateID == "" {
		return errors.New("record state is required")
	}
	if len(rm.Data) == 0 {
		return errors.New("record data is required")
	}
	return nil
}
