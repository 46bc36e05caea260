package metrics

import (
	"context"
	"time"

	"github.com/mautops/record-gin/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Collector 指标收集器
type Collector struct {
	db       *gorm.DB
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector 创建指标收集器
func NewCollector(db *gorm.DB, interval time.Duration) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		db:       db,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start 启动指标收集器
func (c *Collector) Start() {
	go c.collect()
}

// Stop 停止指标收集器
func (c *Collector) Stop() {
	c.cancel()
	<-c.done
}

// collect 定期收集指标
func (c *Collector) collect() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = UpdateDatabaseConnections(c.db)
			if err := c.CollectRecordStates(c.ctx); err != nil {
				logrus.WithError(err).Debug("failed to collect record state metrics")
			}
		}
	}
}

// CollectRecordStates 按模板与状态统计未归档记录
func (c *Collector) CollectRecordStates(ctx context.Context) error {
	var rows []struct {
		TemplateID string
		StateID    string
		Count      int64
	}
	err := c.db.WithContext(ctx).Model(&model.RecordModel{}).
		Select("template_id, state_id, COUNT(*) AS count").
		Group("template_id, state_id").
		Scan(&rows).Error
	if err != nil {
		return err
	}
	for _, r := range rows {
		UpdateRecordsByState(r.TemplateID, r.StateID, float64(r.Count))
	}
	return nil
}
