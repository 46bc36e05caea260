package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/record-gin/internal/model"
	"github.com/mautops/record-gin/pkg/types"
	"gorm.io/gorm"
)

// StatisticsService 记录统计服务接口,统计范围为调用者所在组织的未归档记录
type StatisticsService interface {
	ByTemplate(ctx context.Context, actor *types.Actor) ([]*TemplateStatistics, error)
	ByDay(ctx context.Context, actor *types.Actor, since time.Time) ([]*DailyStatistics, error)
	SLA(ctx context.Context, actor *types.Actor) (*SLAStatistics, error)
}

// TemplateStatistics 按模板统计
type TemplateStatistics struct {
	TemplateID   string `json:"template_id"`
	TemplateName string `json:"template_name"`
	Count        int64  `json:"count"`
	Locked       int64  `json:"locked"`
}

// DailyStatistics 按创建日期统计
type DailyStatistics struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// SLAStatistics SLA 统计
type SLAStatistics struct {
	WithSLA      int64   `json:"with_sla"`
	Alerted      int64   `json:"alerted"`
	Breached     int64   `json:"breached"`
	BreachedRate float64 `json:"breached_rate"` // 百分比
}

// statisticsService 统计服务实现
type statisticsService struct {
	db *gorm.DB
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{db: db}
}

// ByTemplate 按模板统计记录数与锁定数
func (s *statisticsService) ByTemplate(ctx context.Context, actor *types.Actor) ([]*TemplateStatistics, error) {
	var results []struct {
		TemplateID string
		Count      int64
		Locked     int64
	}
	err := s.db.WithContext(ctx).Model(&model.RecordModel{}).
		Select("template_id, COUNT(*) AS count, SUM(CASE WHEN locked THEN 1 ELSE 0 END) AS locked").
		Where("organization_id = ?", actor.OrganizationID).
		Group("template_id").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get record statistics by template: %w", err)
	}

	// 模板名称取最新版本,已删除模板同样显示
	stats := make([]*TemplateStatistics, 0, len(results))
	for _, r := range results {
		name := "unknown"
		var tm model.TemplateModel
		if err := s.db.WithContext(ctx).Unscoped().Where("id = ?", r.TemplateID).Order("version DESC").First(&tm).Error; err == nil {
			name = tm.Name
		}
		stats = append(stats, &TemplateStatistics{
			TemplateID:   r.TemplateID,
			TemplateName: name,
			Count:        r.Count,
			Locked:       r.Locked,
		})
	}
	return stats, nil
}

// ByDay 按创建日期统计,日期降序
func (s *statisticsService) ByDay(ctx context.Context, actor *types.Actor, since time.Time) ([]*DailyStatistics, error) {
	var results []struct {
		Date  string
		Count int64
	}
	query := s.db.WithContext(ctx).Model(&model.RecordModel{}).
		Select("DATE(created_at) AS date, COUNT(*) AS count").
		Where("organization_id = ?", actor.OrganizationID)
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	err := query.Group("DATE(created_at)").Order("date DESC").Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get record statistics by day: %w", err)
	}

	stats := make([]*DailyStatistics, 0, len(results))
	for _, r := range results {
		stats = append(stats, &DailyStatistics{Date: r.Date, Count: r.Count})
	}
	return stats, nil
}

// SLA 统计当前带 SLA 计时的记录中已预警与已超期的数量
func (s *statisticsService) SLA(ctx context.Context, actor *types.Actor) (*SLAStatistics, error) {
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&model.RecordModel{}).
			Where("organization_id = ? AND due_at IS NOT NULL", actor.OrganizationID)
	}

	var stats SLAStatistics
	if err := base().Count(&stats.WithSLA).Error; err != nil {
		return nil, fmt.Errorf("failed to count records with sla: %w", err)
	}
	if err := base().Where("sla_alert_sent_at IS NOT NULL").Count(&stats.Alerted).Error; err != nil {
		return nil, fmt.Errorf("failed to count alerted records: %w", err)
	}
	if err := base().Where("sla_breached_at IS NOT NULL").Count(&stats.Breached).Error; err != nil {
		return nil, fmt.Errorf("failed to count breached records: %w", err)
	}
	if stats.WithSLA > 0 {
		stats.BreachedRate = float64(stats.Breached) / float64(stats.WithSLA) * 100
	}
	return &stats, nil
}
