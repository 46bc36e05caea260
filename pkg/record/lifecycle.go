package record

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/record-gin/pkg/field"
	"github.com/mautops/record-gin/pkg/statemachine"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/mautops/record-gin/pkg/types"
)

// New 基于模板快照创建记录,编码由调用方在校验通过后分配
func New(t *template.Template, values map[string]interface{}, actor *types.Actor, now time.Time) (*Record, error) {
	initial := t.InitialState()
	if initial == nil {
		return nil, types.NewValidationError([]types.Violation{{Field: "states", Rule: "initial", Message: "template has no initial state"}})
	}

	// 1. 权限: 模板创建权限 + 初始状态创建角色
	if !types.Permits(actor.Roles, t.Permissions.Create) {
		return nil, types.PermissionDeniedf("roles cannot create records of template %s", t.Code)
	}
	if !types.HasRole(actor.Roles, initial.Roles.Create) {
		return nil, types.PermissionDeniedf("roles cannot create records in state %q", initial.ID)
	}

	// 2. 字段级编辑权限
	effective := t.EffectiveFields(initial.ID)
	if err := checkWritable(effective, values, actor.Roles, true); err != nil {
		return nil, err
	}

	// 3. 填充默认值并校验
	merged := field.ApplyDefaults(effective, values)
	if err := types.NewValidationError(field.ValidateRecordAgainstSchema(effective, merged)); err != nil {
		return nil, err
	}

	r := &Record{
		ID:              uuid.New().String(),
		TemplateID:      t.ID,
		TemplateVersion: t.Version,
		OrganizationID:  t.OrganizationID,
		StateID:         initial.ID,
		Values:          merged,
		CreatedBy:       actor.ID,
		UpdatedBy:       actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if t.Config.EnableChecklist {
		for _, label := range t.Config.Checklist {
			r.Checklist = append(r.Checklist, ChecklistItem{ID: uuid.New().String(), Label: label})
		}
	}
	r.enterState(initial, now)
	r.appendHistory(types.HistoryEntry{Kind: types.HistoryCreated, Actor: actor.ID, Timestamp: now, To: initial.ID})
	return r, nil
}

// Transition 将记录移动到目标状态
// 所有检查通过后才修改记录,失败时记录保持不变
func (r *Record) Transition(t *template.Template, targetID string, values map[string]interface{}, actor *types.Actor, note string, now time.Time) error {
	if r.Locked {
		return types.Lockedf("record %s is locked", r.Code)
	}
	from := t.State(r.StateID)
	if from == nil {
		return types.NotFoundf("state %q of record %s", r.StateID, r.Code)
	}
	to := t.State(targetID)
	if to == nil {
		return types.InvalidTransitionf("state %q does not exist in template %s", targetID, t.Code)
	}
	if err := statemachine.CheckTransition(actor.Roles, from, to); err != nil {
		return err
	}

	// 目标状态的有效字段: 已存值 ∪ 本次提交值必须满足必填与规则
	effective := t.EffectiveFields(to.ID)
	if err := checkWritable(effective, values, actor.Roles, true); err != nil {
		return err
	}
	merged := mergeValues(r.Values, values)
	if err := types.NewValidationError(field.ValidateRecordAgainstSchema(effective, scopedValues(effective, merged, values))); err != nil {
		return err
	}

	r.Values = merged
	r.StateID = to.ID
	r.UpdatedBy = actor.ID
	r.UpdatedAt = now
	r.enterState(to, now)
	r.appendHistory(types.HistoryEntry{
		Kind:      types.HistoryTransition,
		Actor:     actor.ID,
		Timestamp: now,
		From:      from.ID,
		To:        to.ID,
		Note:      note,
	})
	if to.IsFinal {
		r.Locked = true
	}
	return nil
}

// UpdateValues 在当前状态下修改字段值
func (r *Record) UpdateValues(t *template.Template, values map[string]interface{}, actor *types.Actor, now time.Time) ([]string, error) {
	if r.Locked {
		return nil, types.Lockedf("record %s is locked", r.Code)
	}
	state := t.State(r.StateID)
	if state == nil {
		return nil, types.NotFoundf("state %q of record %s", r.StateID, r.Code)
	}
	if err := r.checkEdit(t, state, actor); err != nil {
		return nil, err
	}

	effective := t.EffectiveFields(state.ID)
	if err := checkWritable(effective, values, actor.Roles, false); err != nil {
		return nil, err
	}
	merged := mergeValues(r.Values, values)
	if err := types.NewValidationError(field.ValidateRecordAgainstSchema(effective, scopedValues(effective, merged, values))); err != nil {
		return nil, err
	}

	changed := changedCodes(r.Values, merged)
	if len(changed) == 0 {
		return nil, nil
	}
	r.Values = merged
	r.UpdatedBy = actor.ID
	r.UpdatedAt = now
	r.appendHistory(types.HistoryEntry{
		Kind:      types.HistoryUpdated,
		Actor:     actor.ID,
		Timestamp: now,
		Note:      "changed " + strings.Join(changed, ", "),
	})
	return changed, nil
}

// AddComment 追加评论
func (r *Record) AddComment(t *template.Template, text string, actor *types.Actor, now time.Time) (*Comment, error) {
	if r.Locked {
		return nil, types.Lockedf("record %s is locked", r.Code)
	}
	if !t.Config.EnableComments {
		return nil, types.Conflictf("comments are disabled for template %s", t.Code)
	}
	if !types.Permits(actor.Roles, t.Permissions.View) {
		return nil, types.PermissionDeniedf("roles cannot comment on records of template %s", t.Code)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, types.NewValidationError([]types.Violation{{Field: "text", Rule: "required", Message: "comment text is required"}})
	}

	c := Comment{ID: uuid.New().String(), Author: actor.ID, Text: text, CreatedAt: now}
	r.Comments = append(r.Comments, c)
	r.UpdatedBy = actor.ID
	r.UpdatedAt = now
	return &c, nil
}

// ChecklistUpdate 检查项修改,ID 为空表示新增
type ChecklistUpdate struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
	Done  bool   `json:"done"`
}

// UpdateChecklist 修改或追加检查项,未提及的已有检查项保持不变
func (r *Record) UpdateChecklist(t *template.Template, updates []ChecklistUpdate, actor *types.Actor, now time.Time) error {
	if r.Locked {
		return types.Lockedf("record %s is locked", r.Code)
	}
	if !t.Config.EnableChecklist {
		return types.Conflictf("checklist is disabled for template %s", t.Code)
	}
	state := t.State(r.StateID)
	if state == nil {
		return types.NotFoundf("state %q of record %s", r.StateID, r.Code)
	}
	if err := r.checkEdit(t, state, actor); err != nil {
		return err
	}

	// 1. 先整体校验,再修改
	index := make(map[string]int, len(r.Checklist))
	for i, item := range r.Checklist {
		index[item.ID] = i
	}
	var vs []types.Violation
	for i, u := range updates {
		if u.ID != "" {
			if _, ok := index[u.ID]; !ok {
				return types.NotFoundf("checklist item %q", u.ID)
			}
			continue
		}
		if strings.TrimSpace(u.Label) == "" {
			vs = append(vs, types.Violation{Field: fmt.Sprintf("items[%d].label", i), Rule: "required", Message: "new checklist items need a label"})
		}
	}
	if err := types.NewValidationError(vs); err != nil {
		return err
	}

	// 2. 应用修改
	items := append([]ChecklistItem(nil), r.Checklist...)
	for _, u := range updates {
		if u.ID == "" {
			item := ChecklistItem{ID: uuid.New().String(), Label: strings.TrimSpace(u.Label)}
			setDone(&item, u.Done, actor.ID, now)
			items = append(items, item)
			continue
		}
		item := &items[index[u.ID]]
		if label := strings.TrimSpace(u.Label); label != "" {
			item.Label = label
		}
		setDone(item, u.Done, actor.ID, now)
	}
	r.Checklist = items
	r.UpdatedBy = actor.ID
	r.UpdatedAt = now
	return nil
}

func setDone(item *ChecklistItem, done bool, actorID string, now time.Time) {
	if item.Done == done {
		return
	}
	item.Done = done
	if done {
		at := now
		item.DoneBy, item.DoneAt = actorID, &at
		return
	}
	item.DoneBy, item.DoneAt = "", nil
}

// ToggleLock 管理员锁定或解锁记录,不经过状态图
func (r *Record) ToggleLock(t *template.Template, actor *types.Actor, note string, now time.Time) error {
	if !CanAdminister(t, actor) {
		return types.PermissionDeniedf("roles cannot lock or unlock records of template %s", t.Code)
	}
	r.Locked = !r.Locked
	kind := types.HistoryUnlocked
	if r.Locked {
		kind = types.HistoryLocked
	}
	r.UpdatedBy = actor.ID
	r.UpdatedAt = now
	r.appendHistory(types.HistoryEntry{Kind: kind, Actor: actor.ID, Timestamp: now, From: r.StateID, To: r.StateID, Note: note})
	return nil
}

// Archive 软删除记录
func (r *Record) Archive(t *template.Template, actor *types.Actor, now time.Time) error {
	if r.Archived() {
		return types.Conflictf("record %s is already archived", r.Code)
	}
	if !types.Permits(actor.Roles, t.Permissions.Delete) {
		return types.PermissionDeniedf("roles cannot archive records of template %s", t.Code)
	}
	at := now
	r.ArchivedAt = &at
	r.UpdatedBy = actor.ID
	r.UpdatedAt = now
	r.appendHistory(types.HistoryEntry{Kind: types.HistoryArchived, Actor: actor.ID, Timestamp: now, From: r.StateID})
	return nil
}

// CloneRecord 复制记录: 新 ID,状态重置为初始状态,复制调用者可编辑的字段值,历史独立
// 源记录与模板版本相同,编码由调用方分配
func CloneRecord(src *Record, t *template.Template, actor *types.Actor, now time.Time) (*Record, error) {
	initial := t.InitialState()
	if initial == nil {
		return nil, types.NewValidationError([]types.Violation{{Field: "states", Rule: "initial", Message: "template has no initial state"}})
	}
	if !types.Permits(actor.Roles, t.Permissions.Create) || !types.HasRole(actor.Roles, initial.Roles.Create) {
		return nil, types.PermissionDeniedf("roles cannot create records in state %q", initial.ID)
	}

	r := &Record{
		ID:              uuid.New().String(),
		TemplateID:      src.TemplateID,
		TemplateVersion: src.TemplateVersion,
		OrganizationID:  src.OrganizationID,
		StateID:         initial.ID,
		Values:          field.ApplyDefaults(t.EffectiveFields(initial.ID), editableValues(t.AllFields(), copyValues(src.Values), actor.Roles)),
		CreatedBy:       actor.ID,
		UpdatedBy:       actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, item := range src.Checklist {
		r.Checklist = append(r.Checklist, ChecklistItem{ID: uuid.New().String(), Label: item.Label})
	}
	r.enterState(initial, now)
	r.appendHistory(types.HistoryEntry{Kind: types.HistoryCloned, Actor: actor.ID, Timestamp: now, To: initial.ID, Note: "cloned from " + src.Code})
	return r, nil
}

// NextStates 返回调用者可以执行的目标状态,已锁定记录返回空
func (r *Record) NextStates(t *template.Template, roles []string) []*statemachine.State {
	out := make([]*statemachine.State, 0)
	if r.Locked {
		return out
	}
	from := t.State(r.StateID)
	if from == nil {
		return out
	}
	for _, id := range statemachine.AllowedNextStates(from) {
		if to := t.State(id); to != nil && statemachine.CanTransition(roles, from, to) {
			out = append(out, to)
		}
	}
	return out
}

// VisibleTo 返回按字段查看权限过滤后的副本
func (r *Record) VisibleTo(t *template.Template, roles []string) *Record {
	c := r.Clone()
	c.Values = field.FilterVisible(t.AllFields(), r.Values, roles)
	return c
}

// CanAdminister 判断是否可执行锁定等管理操作
func CanAdminister(t *template.Template, actor *types.Actor) bool {
	return actor.IsAdmin() || types.HasRole(actor.Roles, t.Permissions.Admin)
}

// checkEdit 当前状态编辑角色与模板编辑权限
func (r *Record) checkEdit(t *template.Template, state *statemachine.State, actor *types.Actor) error {
	if !types.Permits(actor.Roles, t.Permissions.Edit) || !types.HasRole(actor.Roles, state.Roles.Edit) {
		return types.PermissionDeniedf("roles cannot edit records in state %q", state.ID)
	}
	return nil
}

// enterState 进入新状态时重置 SLA 计时
func (r *Record) enterState(s *statemachine.State, now time.Time) {
	r.StateEnteredAt = now
	r.DueAt, r.AlertAt = nil, nil
	r.SLAAlertSentAt, r.SLABreachedAt = nil, nil
	if due, alert, ok := s.SLA.Deadlines(now); ok {
		r.DueAt = &due
		if !alert.IsZero() {
			r.AlertAt = &alert
		}
	}
}

// checkWritable 字段级编辑权限与只读约束
func checkWritable(fields []*field.Field, values map[string]interface{}, roles []string, allowReadOnly bool) error {
	denied, vs := field.CheckEditable(fields, values, roles, allowReadOnly)
	if len(denied) > 0 {
		return types.PermissionDeniedf("roles cannot edit fields %s", strings.Join(denied, ", "))
	}
	return types.NewValidationError(vs)
}

// editableValues 只保留调用者有编辑权限的字段值
func editableValues(fields []*field.Field, values map[string]interface{}, roles []string) map[string]interface{} {
	idx := field.Index(fields)
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if f, ok := idx[k]; ok && !types.Permits(roles, f.EditRoles) {
			continue
		}
		out[k] = v
	}
	return out
}

func mergeValues(stored, supplied map[string]interface{}) map[string]interface{} {
	out := copyValues(stored)
	for k, v := range supplied {
		out[k] = v
	}
	return out
}

// scopedValues 已存值只检查有效字段集内的部分,本次提交的值全部检查
func scopedValues(effective []*field.Field, merged, supplied map[string]interface{}) map[string]interface{} {
	idx := field.Index(effective)
	out := make(map[string]interface{}, len(merged))
	for k, v := range merged {
		if _, ok := idx[k]; ok {
			out[k] = v
			continue
		}
		if _, ok := supplied[k]; ok {
			out[k] = v
		}
	}
	return out
}

func changedCodes(before, after map[string]interface{}) []string {
	var changed []string
	for k, v := range after {
		old, ok := before[k]
		if !ok || fmt.Sprint(old) != fmt.Sprint(v) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
