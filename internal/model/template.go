package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TemplateModel 模板数据模型,每次结构修改新增一行版本
type TemplateModel struct {
	ID             string         `gorm:"primaryKey;type:varchar(64)"`
	Version        int            `gorm:"primaryKey;autoIncrement:false;not null"` // 主键组合 (id, version)
	Code           string         `gorm:"type:varchar(64);not null;index"`
	OrganizationID string         `gorm:"type:varchar(64);not null;index"`
	Name           string         `gorm:"type:varchar(255);not null"`
	Description    string         `gorm:"type:text"`
	Active         bool           `gorm:"not null;index"`
	Data           datatypes.JSON `gorm:"not null"` // 序列化后的 Template 对象
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
	CreatedBy      string         `gorm:"type:varchar(64)"` // 创建人 ID
	UpdatedBy      string         `gorm:"type:varchar(64)"` // 更新人 ID
	DeletedAt      gorm.DeletedAt `gorm:"index"`            // 软删除,所有版本同时标记
}

// TableName 指定表名
func (TemplateModel) TableName() string {
	return "templates"
}

// Validate 验证模板模型
func (tm *TemplateModel) Validate() error {
	if tm.ID == "" {
		return errors.New("template ID is required")
	}
	if tm.Code == "" {
		return errors.New("template code is required")
	}
	if tm.Name == "" {
		return errors.New("template name is required")
	}
	if tm.Version < 1 {
		return errors.New("template version must be positive")
	}
	if len(tm.Data) == 0 {
		return errors.New("template data is required")
	}
	return nil
}
