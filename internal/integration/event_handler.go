package integration

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/record-gin/internal/model"
	"github.com/mautops/record-gin/internal/repository"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 通知事件类型
const (
	EventRecordCreated      = "record.created"
	EventRecordTransitioned = "record.transitioned"
	EventRecordLocked       = "record.locked"
	EventRecordUnlocked     = "record.unlocked"
	EventRecordSLAAlert     = "record.sla_alert"
	EventRecordSLABreached  = "record.sla_breached"
)

// SignatureHeader Webhook 配置了 secret 时携带的 HMAC-SHA256 签名头
const SignatureHeader = "X-Record-Signature"

// Event 通知事件负载
type Event struct {
	ID              string                 `json:"id"`
	Type            string                 `json:"type"`
	RecordID        string                 `json:"record_id"`
	RecordCode      string                 `json:"record_code"`
	TemplateID      string                 `json:"template_id"`
	TemplateVersion int                    `json:"template_version"`
	OrganizationID  string                 `json:"organization_id"`
	StateID         string                 `json:"state_id"`
	FromStateID     string                 `json:"from_state_id,omitempty"`
	Actor           string                 `json:"actor,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	Data            map[string]interface{} `json:"data,omitempty"`
}

// Notifier 通知服务,事件先持久化再异步推送
type Notifier interface {
	Notify(ctx context.Context, evt *Event) error
	Redeliver(ctx context.Context, limit int) (int, error)
	Stop()
}

// NotifierOptions 通知投递参数
type NotifierOptions struct {
	Workers        int
	QueueSize      int
	MaxRetries     int
	InitialBackoff time.Duration
	Timeout        time.Duration
}

type delivery struct {
	eventID string
	evt     *Event
}

// dbEventHandler 基于数据库的事件处理器
// 事件写入 events 表后入队,由 worker 推送到模板配置的 Webhook
type dbEventHandler struct {
	eventRepo   repository.EventRepository
	templateMgr TemplateManager
	httpClient  *http.Client
	queue       chan delivery
	opts        NotifierOptions
	logger      logrus.FieldLogger
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewEventHandler 创建事件处理器并启动 worker
func NewEventHandler(db *gorm.DB, templateMgr TemplateManager, opts NotifierOptions, logger logrus.FieldLogger) Notifier {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	h := &dbEventHandler{
		eventRepo:   repository.NewEventRepository(db),
		templateMgr: templateMgr,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		queue:       make(chan delivery, opts.QueueSize),
		opts:        opts,
		logger:      logger,
		stop:        make(chan struct{}),
	}

	// 启动 worker goroutines
	for i := 0; i < opts.Workers; i++ {
		h.wg.Add(1)
		go h.worker()
	}
	return h
}

// Notify 持久化事件并入队
func (h *dbEventHandler) Notify(ctx context.Context, evt *Event) error {
	// 1. 持久化事件到数据库
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	em := &model.EventModel{
		ID:             evt.ID,
		RecordID:       evt.RecordID,
		TemplateID:     evt.TemplateID,
		OrganizationID: evt.OrganizationID,
		Type:           evt.Type,
		Payload:        datatypes.JSON(payload),
		Status:         model.EventStatusPending,
		CreatedAt:      evt.Timestamp,
		UpdatedAt:      evt.Timestamp,
	}
	if err := h.eventRepo.Save(ctx, em); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	// 2. 异步推送到 Webhook
	h.enqueue(delivery{eventID: em.ID, evt: evt})
	return nil
}

// Redeliver 重新投递仍处于 pending 状态的事件
// 队列已满时丢弃的事件由定时任务通过这里补发
func (h *dbEventHandler) Redeliver(ctx context.Context, limit int) (int, error) {
	pending, err := h.eventRepo.FindPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, em := range pending {
		var evt Event
		if err := json.Unmarshal(em.Payload, &evt); err != nil {
			h.logger.WithError(err).WithField("event_id", em.ID).Warn("discarding undecodable event")
			_ = h.eventRepo.UpdateStatus(ctx, em.ID, model.EventStatusFailed, em.RetryCount, err.Error())
			continue
		}
		if h.enqueue(delivery{eventID: em.ID, evt: &evt}) {
			n++
		}
	}
	return n, nil
}

func (h *dbEventHandler) enqueue(d delivery) bool {
	select {
	case h.queue <- d:
		return true
	default:
		// 队列满时保留 pending 状态,等待补发
		h.logger.WithFields(logrus.Fields{"event_id": d.eventID, "type": d.evt.Type}).Warn("event queue full, delivery deferred")
		return false
	}
}

// worker 事件处理 worker
func (h *dbEventHandler) worker() {
	defer h.wg.Done()
	for {
		select {
		case d := <-h.queue:
			h.deliver(d)
		case <-h.stop:
			return
		}
	}
}

// deliver 推送到订阅了该事件的 Webhook,失败按指数退避重试
func (h *dbEventHandler) deliver(d delivery) {
	ctx := context.Background()
	log := h.logger.WithFields(logrus.Fields{"event_id": d.eventID, "type": d.evt.Type, "record_id": d.evt.RecordID})

	// 1. 获取模板配置（包含 Webhook 配置）
	tpl, err := h.templateMgr.Resolve(ctx, d.evt.TemplateID, d.evt.TemplateVersion)
	if err != nil {
		log.WithError(err).Warn("template not resolvable, event not pushed")
		_ = h.eventRepo.UpdateStatus(ctx, d.eventID, model.EventStatusFailed, 0, err.Error())
		return
	}

	// 2. 没有订阅者时直接标记成功
	hooks := make([]template.Webhook, 0, len(tpl.Config.Webhooks))
	for _, w := range tpl.Config.Webhooks {
		if w.Subscribed(d.evt.Type) {
			hooks = append(hooks, w)
		}
	}
	if len(hooks) == 0 {
		_ = h.eventRepo.UpdateStatus(ctx, d.eventID, model.EventStatusSuccess, 0, "")
		return
	}

	body, err := json.Marshal(d.evt)
	if err != nil {
		_ = h.eventRepo.UpdateStatus(ctx, d.eventID, model.EventStatusFailed, 0, err.Error())
		return
	}

	// 3. 推送,只重试失败的 Webhook
	backoff := h.opts.InitialBackoff
	for attempt := 0; attempt < h.opts.MaxRetries; attempt++ {
		failed := hooks[:0:0]
		var lastErr error
		for _, w := range hooks {
			if err := h.send(ctx, w, body); err != nil {
				lastErr = err
				failed = append(failed, w)
				log.WithError(err).WithField("url", w.URL).Warn("webhook delivery failed")
			}
		}
		if len(failed) == 0 {
			_ = h.eventRepo.UpdateStatus(ctx, d.eventID, model.EventStatusSuccess, attempt, "")
			return
		}
		hooks = failed

		if attempt == h.opts.MaxRetries-1 {
			_ = h.eventRepo.UpdateStatus(ctx, d.eventID, model.EventStatusFailed, attempt+1, lastErr.Error())
			return
		}
		_ = h.eventRepo.UpdateStatus(ctx, d.eventID, model.EventStatusPending, attempt+1, lastErr.Error())

		select {
		case <-time.After(backoff):
			backoff *= 2 // 指数退避
		case <-h.stop:
			return
		}
	}
}

// send 发送单个 Webhook 请求
func (h *dbEventHandler) send(ctx context.Context, w template.Webhook, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(w.Secret, body))
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}
	return nil
}

// Sign 计算负载的 HMAC-SHA256 十六进制签名
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Stop 停止事件处理器,等待进行中的投递结束
func (h *dbEventHandler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	h.wg.Wait()
}
