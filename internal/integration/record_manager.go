package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mautops/record-gin/internal/model"
	"github.com/mautops/record-gin/internal/repository"
	"github.com/mautops/record-gin/pkg/record"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RecordManager 记录持久化
// 所有修改经 Mutate 以版本号比较交换写入,记录行与新历史条目在同一事务中提交
type RecordManager interface {
	Create(ctx context.Context, r *record.Record) error
	Get(ctx context.Context, id string) (*record.Record, error)
	Mutate(ctx context.Context, id string, attempts int, fn func(r *record.Record) error) (*record.Record, error)
	List(ctx context.Context, filter repository.RecordFilter) ([]*record.Record, int64, error)
	CountByState(ctx context.Context, organizationID, templateID string) (map[string]int64, error)
	History(ctx context.Context, id string) ([]types.HistoryEntry, error)
}

// recordData 记录 JSON 列中保存的内容
type recordData struct {
	Values      map[string]interface{} `json:"values"`
	Comments    []record.Comment       `json:"comments,omitempty"`
	Attachments []record.Attachment    `json:"attachments,omitempty"`
	Checklist   []record.ChecklistItem `json:"checklist,omitempty"`
}

// dbRecordManager 基于数据库的记录管理器
type dbRecordManager struct {
	db     *gorm.DB
	logger logrus.FieldLogger
}

// NewRecordManager 创建记录管理器
func NewRecordManager(db *gorm.DB, logger logrus.FieldLogger) RecordManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &dbRecordManager{db: db, logger: logger}
}

// Create 保存新记录及其全部历史条目
func (m *dbRecordManager) Create(ctx context.Context, r *record.Record) error {
	rm, err := recordToModel(r)
	if err != nil {
		return err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewRecordRepository(tx).Create(ctx, rm); err != nil {
			return err
		}
		return repository.NewHistoryRepository(tx).Append(ctx, historyModels(r.ID, r.History)...)
	})
	return translate(err, "record code %s already exists in template %s", r.Code, r.TemplateID)
}

// Get 获取记录及完整历史,已归档记录返回 NotFound
func (m *dbRecordManager) Get(ctx context.Context, id string) (*record.Record, error) {
	rm, err := repository.NewRecordRepository(m.db).FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "record %s", id)
	}
	r, err := recordFromModel(rm)
	if err != nil {
		return nil, err
	}

	entries, err := repository.NewHistoryRepository(m.db).FindByResource(ctx, model.HistoryResourceRecord, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of record %s: %w", id, err)
	}
	r.History = historyFromModels(entries)
	return r, nil
}

// Mutate 读取记录,执行 fn,并以读取时的版本号为条件写回
// 写入期间记录被其他请求修改时,在 attempts 次内重新读取并重放 fn,仍失败返回 Conflict
// fn 返回错误时不写入任何数据
func (m *dbRecordManager) Mutate(ctx context.Context, id string, attempts int, fn func(r *record.Record) error) (*record.Record, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		// 1. 读取当前版本
		r, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		expected := r.Revision
		persisted := len(r.History)

		// 2. 执行领域操作
		if err := fn(r); err != nil {
			return nil, err
		}

		// 3. 比较交换写回
		err = m.save(ctx, r, expected, persisted)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, types.ErrConflict) {
			return nil, err
		}
		lastErr = err
		m.logger.WithFields(logrus.Fields{
			"record_id": id,
			"revision":  expected,
			"attempt":   i + 1,
		}).Debug("record modified concurrently")
	}
	return nil, lastErr
}

func (m *dbRecordManager) save(ctx context.Context, r *record.Record, expected, persisted int) error {
	rm, err := recordToModel(r)
	if err != nil {
		return err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := repository.NewRecordRepository(tx).CompareAndSwap(ctx, rm, expected)
		if err != nil {
			return err
		}
		if !ok {
			return types.Conflictf("record %s was modified concurrently (revision %d)", r.Code, expected)
		}
		if persisted < len(r.History) {
			return repository.NewHistoryRepository(tx).Append(ctx, historyModels(r.ID, r.History[persisted:])...)
		}
		return nil
	})
	if err != nil {
		return translate(err, "record %s history sequence taken", r.Code)
	}
	r.Revision = rm.Revision
	return nil
}

// List 分页查询记录,不加载历史
func (m *dbRecordManager) List(ctx context.Context, filter repository.RecordFilter) ([]*record.Record, int64, error) {
	models, total, err := repository.NewRecordRepository(m.db).List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*record.Record, 0, len(models))
	for _, rm := range models {
		r, err := recordFromModel(rm)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, nil
}

// CountByState 按状态统计记录数
func (m *dbRecordManager) CountByState(ctx context.Context, organizationID, templateID string) (map[string]int64, error) {
	counts, err := repository.NewRecordRepository(m.db).CountByState(ctx, organizationID, templateID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.StateID] = c.Count
	}
	return out, nil
}

// History 记录历史,按序号升序
func (m *dbRecordManager) History(ctx context.Context, id string) ([]types.HistoryEntry, error) {
	if _, err := repository.NewRecordRepository(m.db).FindByID(ctx, id); err != nil {
		return nil, translate(err, "record %s", id)
	}
	models, err := repository.NewHistoryRepository(m.db).FindByResource(ctx, model.HistoryResourceRecord, id)
	if err != nil {
		return nil, err
	}
	return historyFromModels(models), nil
}

func historyModels(recordID string, entries []types.HistoryEntry) []*model.HistoryModel {
	out := make([]*model.HistoryModel, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyToModel(model.HistoryResourceRecord, recordID, e))
	}
	return out
}

// recordToModel 记录转换为数据模型,历史单独保存
func recordToModel(r *record.Record) (*model.RecordModel, error) {
	data, err := json.Marshal(recordData{
		Values:      r.Values,
		Comments:    r.Comments,
		Attachments: r.Attachments,
		Checklist:   r.Checklist,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	rm := &model.RecordModel{
		ID:              r.ID,
		Code:            r.Code,
		TemplateID:      r.TemplateID,
		TemplateVersion: r.TemplateVersion,
		OrganizationID:  r.OrganizationID,
		StateID:         r.StateID,
		Locked:          r.Locked,
		Revision:        r.Revision,
		Data:            data,
		StateEnteredAt:  r.StateEnteredAt,
		DueAt:           r.DueAt,
		AlertAt:         r.AlertAt,
		SLAAlertSentAt:  r.SLAAlertSentAt,
		SLABreachedAt:   r.SLABreachedAt,
		CreatedBy:       r.CreatedBy,
		UpdatedBy:       r.UpdatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.ArchivedAt != nil {
		rm.DeletedAt = gorm.DeletedAt{Time: *r.ArchivedAt, Valid: true}
	}
	return rm, nil
}

// recordFromModel 数据模型转换为记录
func recordFromModel(rm *model.RecordModel) (*record.Record, error) {
	var data recordData
	if err := json.Unmarshal(rm.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", rm.ID, err)
	}
	if data.Values == nil {
		data.Values = map[string]interface{}{}
	}

	r := &record.Record{
		ID:              rm.ID,
		Code:            rm.Code,
		TemplateID:      rm.TemplateID,
		TemplateVersion: rm.TemplateVersion,
		OrganizationID:  rm.OrganizationID,
		StateID:         rm.StateID,
		Values:          data.Values,
		Comments:        data.Comments,
		Attachments:     data.Attachments,
		Checklist:       data.Checklist,
		Locked:          rm.Locked,
		Revision:        rm.Revision,
		StateEnteredAt:  rm.StateEnteredAt,
		DueAt:           rm.DueAt,
		AlertAt:         rm.AlertAt,
		SLAAlertSentAt:  rm.SLAAlertSentAt,
		SLABreachedAt:   rm.SLABreachedAt,
		CreatedBy:       rm.CreatedBy,
		UpdatedBy:       rm.UpdatedBy,
		CreatedAt:       rm.CreatedAt,
		UpdatedAt:       rm.UpdatedAt,
	}
	if rm.DeletedAt.Valid {
		at := rm.DeletedAt.Time
		r.ArchivedAt = &at
	}
	return r, nil
}
