package integration_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/mautops/record-gin/internal/database/databasetest"
	"github.com/mautops/record-gin/internal/integration"
	"github.com/mautops/record-gin/internal/model"
	"github.com/mautops/record-gin/internal/repository"
	"github.com/mautops/record-gin/pkg/numbering"
	"github.com/mautops/record-gin/pkg/record"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/mautops/record-gin/pkg/template/templatetest"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func actor() *types.Actor {
	return &types.Actor{ID: "u1", OrganizationID: "org-1", Roles: templatetest.Roles()}
}

func entry(kind types.HistoryKind) types.HistoryEntry {
	return types.HistoryEntry{Kind: kind, Actor: "u1", Timestamp: time.Now().UTC()}
}

func saveTemplate(t *testing.T, mgr integration.TemplateManager, mutate func(*template.Template)) *template.Template {
	t.Helper()
	tpl := templatetest.InternalAudit()
	tpl.ID = uuid.New().String()
	tpl.Version = 1
	tpl.CreatedAt = time.Now().UTC()
	tpl.UpdatedAt = tpl.CreatedAt
	if mutate != nil {
		mutate(tpl)
	}
	require.NoError(t, mgr.Create(context.Background(), tpl, entry(types.HistoryCreated)))
	return tpl
}

func saveRecord(t *testing.T, mgr integration.RecordManager, tpl *template.Template, code string) *record.Record {
	t.Helper()
	r, err := record.New(tpl, map[string]interface{}{"title": "Audit " + code}, actor(), time.Now().UTC())
	require.NoError(t, err)
	r.Code = code
	require.NoError(t, mgr.Create(context.Background(), r))
	return r
}

// TestSequenceAllocator_Concurrent 测试数据库计数器并发分配不重复
func TestSequenceAllocator_Concurrent(t *testing.T) {
	alloc := integration.NewSequenceAllocator(databasetest.Open(t))
	assertDistinct(t, alloc)
}

// TestRedisSequenceAllocator_Concurrent 测试 Redis 计数器并发分配不重复
func TestRedisSequenceAllocator_Concurrent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	alloc := integration.NewRedisSequenceAllocator(client, "test")
	assertDistinct(t, alloc)

	v, err := alloc.Next(context.Background(), "t1", "2025")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.True(t, mr.Exists("test:seq:t1:2025"))
	assert.True(t, mr.Exists("test:seq:t1"))
}

func assertDistinct(t *testing.T, alloc numbering.Allocator) {
	t.Helper()
	const n = 20
	svc := numbering.NewService(alloc, 4)

	var (
		mu    sync.Mutex
		codes = make(map[string]bool)
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := svc.Allocate(context.Background(), "t1", numbering.Config{}, "AUD")
			assert.NoError(t, err)
			mu.Lock()
			codes[code] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, codes, n)
	for i := 1; i <= n; i++ {
		assert.True(t, codes[fmt.Sprintf("AUD-%04d", i)], "missing sequence %d", i)
	}
}

// TestSequenceAllocator_Periods 测试不同周期独立计数
func TestSequenceAllocator_Periods(t *testing.T) {
	ctx := context.Background()
	alloc := integration.NewSequenceAllocator(databasetest.Open(t))

	for _, want := range []int64{1, 2} {
		v, err := alloc.Next(ctx, "t1", "2025")
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	v, err := alloc.Next(ctx, "t1", "2026")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, err = alloc.Next(ctx, "t2", "2025")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

// TestTemplateManager_Lifecycle 测试模板版本、启用、删除与历史
func TestTemplateManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	mgr := integration.NewTemplateManager(databasetest.Open(t))
	tpl := saveTemplate(t, mgr, nil)

	// 1. 新版本
	next := tpl.Clone()
	next.Version = 2
	next.Name = "Internal Audit v2"
	require.NoError(t, mgr.Update(ctx, next, entry(types.HistoryUpdated)))

	// 同一版本并发写入
	err := mgr.Update(ctx, next, entry(types.HistoryUpdated))
	assert.True(t, errors.Is(err, types.ErrConflict))

	latest, err := mgr.Get(ctx, tpl.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "Internal Audit v2", latest.Name)
	require.Len(t, latest.States, 3)

	v1, err := mgr.Get(ctx, tpl.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Internal Audit", v1.Name)

	versions, err := mgr.ListVersions(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)

	// 2. 停用
	require.NoError(t, mgr.SetActive(ctx, tpl.ID, false, entry(types.HistoryDisabled)))
	latest, err = mgr.Get(ctx, tpl.ID, 0)
	require.NoError(t, err)
	assert.False(t, latest.Active)

	// 3. 删除后只能通过 Resolve 获取
	require.NoError(t, mgr.Delete(ctx, tpl.ID, entry(types.HistoryDeleted)))
	_, err = mgr.Get(ctx, tpl.ID, 0)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	resolved, err := mgr.Resolve(ctx, tpl.ID, 1)
	require.NoError(t, err)
	assert.True(t, resolved.Deleted)

	err = mgr.Delete(ctx, tpl.ID, entry(types.HistoryDeleted))
	assert.True(t, errors.Is(err, types.ErrNotFound))

	history, err := mgr.History(ctx, tpl.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i, h := range history {
		assert.Equal(t, i+1, h.Sequence)
	}
	assert.Equal(t, types.HistoryDeleted, history[3].Kind)

	taken, err := mgr.CodeTaken(ctx, tpl.OrganizationID, tpl.Code, "")
	require.NoError(t, err)
	assert.True(t, taken)
}

// TestTemplateManager_List 测试按组织列出最新版本
func TestTemplateManager_List(t *testing.T) {
	ctx := context.Background()
	mgr := integration.NewTemplateManager(databasetest.Open(t))
	saveTemplate(t, mgr, nil)
	saveTemplate(t, mgr, func(tpl *template.Template) { tpl.Code = "NCR"; tpl.Name = "Nonconformity" })
	saveTemplate(t, mgr, func(tpl *template.Template) { tpl.OrganizationID = "org-2" })

	list, total, err := mgr.List(ctx, repository.TemplateFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)

	_, err = mgr.ListVersions(ctx, "missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

// TestRecordManager_CreateAndGet 测试记录保存与读取
func TestRecordManager_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	db := databasetest.Open(t)
	tpl := saveTemplate(t, integration.NewTemplateManager(db), nil)
	mgr := integration.NewRecordManager(db, nil)

	r := saveRecord(t, mgr, tpl, "AUD-0001")

	got, err := mgr.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "AUD-0001", got.Code)
	assert.Equal(t, "scheduled", got.StateID)
	assert.Equal(t, "Audit AUD-0001", got.Values["title"])
	assert.Len(t, got.Checklist, 2)
	require.Len(t, got.History, 1)
	assert.Equal(t, types.HistoryCreated, got.History[0].Kind)

	// 模板内编码唯一
	dup, err := record.New(tpl, map[string]interface{}{"title": "dup"}, actor(), time.Now().UTC())
	require.NoError(t, err)
	dup.Code = "AUD-0001"
	err = mgr.Create(ctx, dup)
	assert.True(t, errors.Is(err, types.ErrConflict))

	_, err = mgr.Get(ctx, "missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	counts, err := mgr.CountByState(ctx, "org-1", tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"scheduled": 1}, counts)
}

// TestRecordManager_ConcurrentTransition 测试同一记录并发流转只有一个成功
func TestRecordManager_ConcurrentTransition(t *testing.T) {
	db := databasetest.Open(t)
	tpl := saveTemplate(t, integration.NewTemplateManager(db), nil)
	mgr := integration.NewRecordManager(db, nil)
	r := saveRecord(t, mgr, tpl, "AUD-0001")

	const n = 8
	var (
		wg        sync.WaitGroup
		succeeded int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Mutate(context.Background(), r.ID, 1, func(rec *record.Record) error {
				return rec.Transition(tpl, "in_progress", nil, actor(), "start", time.Now().UTC())
			})
			if err == nil {
				atomic.AddInt32(&succeeded, 1)
				return
			}
			assert.True(t, errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrInvalidTransition), err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), succeeded)

	history, err := mgr.History(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.HistoryTransition, history[1].Kind)
}

// TestRecordManager_MutateRetry 测试版本冲突后重放修改
func TestRecordManager_MutateRetry(t *testing.T) {
	ctx := context.Background()
	db := databasetest.Open(t)
	tpl := saveTemplate(t, integration.NewTemplateManager(db), nil)
	mgr := integration.NewRecordManager(db, nil)
	r := saveRecord(t, mgr, tpl, "AUD-0001")

	comment := func(text string) func(*record.Record) error {
		return func(rec *record.Record) error {
			_, err := rec.AddComment(tpl, text, actor(), time.Now().UTC())
			return err
		}
	}

	// 第一次执行时插入一次并发修改
	interfere := func(attempts int) (*record.Record, error) {
		var once sync.Once
		return mgr.Mutate(ctx, r.ID, attempts, func(rec *record.Record) error {
			once.Do(func() {
				_, err := mgr.Mutate(ctx, r.ID, 1, comment("concurrent"))
				require.NoError(t, err)
			})
			return comment("mine")(rec)
		})
	}

	_, err := interfere(1)
	assert.True(t, errors.Is(err, types.ErrConflict))

	updated, err := interfere(3)
	require.NoError(t, err)
	texts := make([]string, 0, len(updated.Comments))
	for _, c := range updated.Comments {
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"concurrent", "concurrent", "mine"}, texts)

	// fn 出错时不写入
	before, err := mgr.Get(ctx, r.ID)
	require.NoError(t, err)
	_, err = mgr.Mutate(ctx, r.ID, 3, func(*record.Record) error { return types.Lockedf("locked") })
	assert.True(t, errors.Is(err, types.ErrLockedRecord))
	after, err := mgr.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
}

// TestRecordManager_ArchivedHidden 测试归档记录不可读取
func TestRecordManager_ArchivedHidden(t *testing.T) {
	ctx := context.Background()
	db := databasetest.Open(t)
	tpl := saveTemplate(t, integration.NewTemplateManager(db), nil)
	mgr := integration.NewRecordManager(db, nil)
	r := saveRecord(t, mgr, tpl, "AUD-0001")

	_, err := mgr.Mutate(ctx, r.ID, 1, func(rec *record.Record) error {
		return rec.Archive(tpl, actor(), time.Now().UTC())
	})
	require.NoError(t, err)

	_, err = mgr.Get(ctx, r.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	list, total, err := mgr.List(ctx, repository.RecordFilter{TemplateID: tpl.ID})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

type webhookSink struct {
	mu       sync.Mutex
	failures int32
	bodies   [][]byte
	sigs     []string
}

func (s *webhookSink) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	s.sigs = append(s.sigs, r.Header.Get(integration.SignatureHeader))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *webhookSink) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func newNotifier(t *testing.T, db *gorm.DB, mgr integration.TemplateManager) integration.Notifier {
	n := integration.NewEventHandler(db, mgr, integration.NotifierOptions{
		Workers:        1,
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		Timeout:        time.Second,
	}, nil)
	t.Cleanup(n.Stop)
	return n
}

// TestNotifier_SignedDelivery 测试 Webhook 签名推送与失败重试
func TestNotifier_SignedDelivery(t *testing.T) {
	sink := &webhookSink{failures: 1}
	srv := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer srv.Close()

	db := databasetest.Open(t)
	mgr := integration.NewTemplateManager(db)
	tpl := saveTemplate(t, mgr, func(tpl *template.Template) {
		tpl.Config.Webhooks = []template.Webhook{{URL: srv.URL, Secret: "s3cret", Events: []string{integration.EventRecordCreated}}}
	})
	notifier := newNotifier(t, db, mgr)

	evt := &integration.Event{Type: integration.EventRecordCreated, RecordID: "r1", RecordCode: "AUD-0001", TemplateID: tpl.ID, TemplateVersion: 1}
	require.NoError(t, notifier.Notify(context.Background(), evt))

	require.Eventually(t, func() bool { return sink.received() == 1 }, 5*time.Second, 20*time.Millisecond)

	sink.mu.Lock()
	body, sig := sink.bodies[0], sink.sigs[0]
	sink.mu.Unlock()
	assert.Equal(t, "sha256="+integration.Sign("s3cret", body), sig)
	assert.Contains(t, string(body), `"record_code":"AUD-0001"`)

	events := repository.NewEventRepository(db)
	require.Eventually(t, func() bool {
		list, err := events.FindByRecordID(context.Background(), "r1")
		return err == nil && len(list) == 1 && list[0].Status == model.EventStatusSuccess
	}, 5*time.Second, 20*time.Millisecond)
}

// TestNotifier_Unsubscribed 测试未订阅的事件不推送
func TestNotifier_Unsubscribed(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer srv.Close()

	db := databasetest.Open(t)
	mgr := integration.NewTemplateManager(db)
	tpl := saveTemplate(t, mgr, func(tpl *template.Template) {
		tpl.Config.Webhooks = []template.Webhook{{URL: srv.URL, Events: []string{integration.EventRecordLocked}}}
	})
	notifier := newNotifier(t, db, mgr)

	require.NoError(t, notifier.Notify(context.Background(), &integration.Event{
		Type: integration.EventRecordCreated, RecordID: "r2", TemplateID: tpl.ID, TemplateVersion: 1,
	}))

	events := repository.NewEventRepository(db)
	require.Eventually(t, func() bool {
		list, err := events.FindByRecordID(context.Background(), "r2")
		return err == nil && len(list) == 1 && list[0].Status == model.EventStatusSuccess
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, sink.received())
}

// TestNotifier_Redeliver 测试补发 pending 事件
func TestNotifier_Redeliver(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer srv.Close()

	db := databasetest.Open(t)
	mgr := integration.NewTemplateManager(db)
	tpl := saveTemplate(t, mgr, func(tpl *template.Template) {
		tpl.Config.Webhooks = []template.Webhook{{URL: srv.URL}}
	})

	// 直接写入一条未投递的事件
	payload := fmt.Sprintf(`{"id":"e1","type":"record.created","record_id":"r3","template_id":%q,"template_version":1}`, tpl.ID)
	require.NoError(t, repository.NewEventRepository(db).Save(context.Background(), &model.EventModel{
		ID: "e1", RecordID: "r3", TemplateID: tpl.ID, Type: integration.EventRecordCreated,
		Payload: []byte(payload), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))

	notifier := newNotifier(t, db, mgr)
	n, err := notifier.Redeliver(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool { return sink.received() == 1 }, 5*time.Second, 20*time.Millisecond)
}

// TestSign 测试签名计算
func TestSign(t *testing.T) {
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		integration.Sign("key", []byte("The quick brown fox jumps over the lazy dog")))
}
