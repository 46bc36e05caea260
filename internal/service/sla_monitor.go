package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mautops/record-gin/internal/integration"
	"github.com/mautops/record-gin/internal/metrics"
	"github.com/mautops/record-gin/internal/model"
	"github.com/mautops/record-gin/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SLAMonitorConfig SLA 检查计划配置
type SLAMonitorConfig struct {
	Schedule  string // cron 表达式,如 "@every 5m"
	BatchSize int    // 每轮每类最多处理的记录数
}

// SLAMonitor 定期检查到达预警时间或超期的记录并发出通知
// 每条记录在每次进入状态后预警与超期各通知一次
type SLAMonitor struct {
	recordRepo repository.RecordRepository
	notifier   integration.Notifier
	config     SLAMonitorConfig
	cron       *cron.Cron
	logger     logrus.FieldLogger
	now        func() time.Time
	mu         sync.Mutex // 同一时间只执行一轮检查
}

// NewSLAMonitor 创建 SLA 监控
func NewSLAMonitor(recordRepo repository.RecordRepository, notifier integration.Notifier, config SLAMonitorConfig, logger logrus.FieldLogger) *SLAMonitor {
	if config.Schedule == "" {
		config.Schedule = "@every 5m"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 200
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SLAMonitor{
		recordRepo: recordRepo,
		notifier:   notifier,
		config:     config,
		cron:       cron.New(),
		logger:     logger,
		now:        time.Now,
	}
}

// Start 按计划启动检查
func (m *SLAMonitor) Start(ctx context.Context) error {
	_, err := m.cron.AddFunc(m.config.Schedule, func() {
		if err := m.RunOnce(ctx); err != nil {
			m.logger.WithError(err).Error("sla check failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sla schedule %q: %w", m.config.Schedule, err)
	}
	m.cron.Start()
	m.logger.WithField("schedule", m.config.Schedule).Info("sla monitor started")
	return nil
}

// Stop 停止调度,等待进行中的检查结束
func (m *SLAMonitor) Stop() {
	<-m.cron.Stop().Done()
}

// Config 获取检查配置
func (m *SLAMonitor) Config() SLAMonitorConfig {
	return m.config
}

// RunOnce 执行一轮检查: 先超期再预警,最后补发未投递的事件
func (m *SLAMonitor) RunOnce(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	// 1. 超期
	breached, err := m.recordRepo.FindBreached(ctx, now, m.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to find breached records: %w", err)
	}
	for _, rm := range breached {
		m.mark(ctx, rm, integration.EventRecordSLABreached, now, m.recordRepo.MarkBreached)
	}

	// 2. 预警
	due, err := m.recordRepo.FindAlertDue(ctx, now, m.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to find records due for alert: %w", err)
	}
	for _, rm := range due {
		m.mark(ctx, rm, integration.EventRecordSLAAlert, now, m.recordRepo.MarkAlertSent)
	}

	// 3. 补发队列满时未推送的事件
	if m.notifier != nil {
		n, err := m.notifier.Redeliver(ctx, m.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to redeliver events: %w", err)
		}
		if n > 0 {
			m.logger.WithField("count", n).Info("pending events requeued")
		}
	}
	return nil
}

// mark 标记成功后发送通知,标记失败说明记录已被修改,跳过
func (m *SLAMonitor) mark(ctx context.Context, rm *model.RecordModel, eventType string, now time.Time, markFn func(context.Context, string, int, time.Time) (bool, error)) {
	log := m.logger.WithFields(logrus.Fields{"record_id": rm.ID, "code": rm.Code, "type": eventType})

	ok, err := markFn(ctx, rm.ID, rm.Revision, now)
	if err != nil {
		log.WithError(err).Warn("failed to mark sla event")
		return
	}
	if !ok {
		log.Debug("record changed since sla scan, skipped")
		return
	}
	metrics.RecordSLAEvent(eventType)

	if m.notifier == nil {
		return
	}
	data := map[string]interface{}{"state_entered_at": rm.StateEnteredAt}
	if rm.DueAt != nil {
		data["due_at"] = *rm.DueAt
	}
	evt := &integration.Event{
		Type:            eventType,
		RecordID:        rm.ID,
		RecordCode:      rm.Code,
		TemplateID:      rm.TemplateID,
		TemplateVersion: rm.TemplateVersion,
		OrganizationID:  rm.OrganizationID,
		StateID:         rm.StateID,
		Timestamp:       now,
		Data:            data,
	}
	if err := m.notifier.Notify(ctx, evt); err != nil {
		log.WithError(err).Error("failed to queue sla notification")
	}
}
