package record_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mautops/record-gin/pkg/field"
	"github.com/mautops/record-gin/pkg/record"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/mautops/record-gin/pkg/template/templatetest"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func auditTemplate() *template.Template {
	tpl := templatetest.InternalAudit()
	tpl.ID = "tpl-aud"
	tpl.Version = 1
	return tpl
}

func actorWith(roles ...string) *types.Actor {
	return &types.Actor{ID: "u-1", OrganizationID: "org-1", Roles: roles}
}

func newRecord(t *testing.T, tpl *template.Template) *record.Record {
	r, err := record.New(tpl, map[string]interface{}{"title": "Q1 production audit"}, actorWith(templatetest.Roles()...), now)
	require.NoError(t, err)
	r.Code = "AUD-2024-0001"
	return r
}

// TestNew 测试创建记录
func TestNew(t *testing.T) {
	tpl := auditTemplate()
	r := newRecord(t, tpl)

	assert.Equal(t, "scheduled", r.StateID)
	assert.Equal(t, 1, r.TemplateVersion)
	assert.Equal(t, "production", r.Values["area"])
	assert.Len(t, r.Checklist, 2)
	require.Len(t, r.History, 1)
	assert.Equal(t, types.HistoryCreated, r.History[0].Kind)
	assert.Equal(t, 1, r.History[0].Sequence)
	assert.Nil(t, r.DueAt)
}

// TestNew_Permission 测试创建权限
func TestNew_Permission(t *testing.T) {
	tpl := auditTemplate()
	_, err := record.New(tpl, map[string]interface{}{"title": "x"}, actorWith(templatetest.RoleViewer), now)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))

	// 字段级编辑权限
	_, err = record.New(tpl, map[string]interface{}{"title": "x", "budget": 10}, actorWith(templatetest.RoleAuditor), now)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))

	tpl.Permissions.Create = []string{"quality_manager"}
	_, err = record.New(tpl, map[string]interface{}{"title": "x"}, actorWith(templatetest.RoleAuditor), now)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))
}

// TestNew_Validation 测试创建时的字段校验
func TestNew_Validation(t *testing.T) {
	tpl := auditTemplate()
	_, err := record.New(tpl, map[string]interface{}{"area": "finance", "unknown": 1}, actorWith(templatetest.Roles()...), now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))

	vs := types.ViolationsOf(err)
	require.Len(t, vs, 3)
	assert.Equal(t, "area", vs[0].Field)
	assert.Equal(t, "title", vs[1].Field)
	assert.Equal(t, "unknown", vs[2].Field)
}

// TestTransition_Example 测试内部审核示例流程
func TestTransition_Example(t *testing.T) {
	tpl := auditTemplate()
	r := newRecord(t, tpl)
	actor := actorWith(templatetest.Roles()...)

	err := r.Transition(tpl, "completed", nil, actor, "", now)
	assert.True(t, errors.Is(err, types.ErrInvalidTransition))
	assert.Equal(t, "scheduled", r.StateID)
	assert.Len(t, r.History, 1)

	require.NoError(t, r.Transition(tpl, "in_progress", map[string]interface{}{"findings": "none"}, actor, "start", now))
	assert.Equal(t, "in_progress", r.StateID)
	require.NotNil(t, r.DueAt)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), *r.DueAt)

	require.NoError(t, r.Transition(tpl, "completed", nil, actor, "done", now.Add(time.Hour)))
	assert.Equal(t, "completed", r.StateID)
	assert.True(t, r.Locked)
	require.Len(t, r.History, 3)
	assert.Equal(t, "in_progress", r.History[2].From)
	assert.Equal(t, "completed", r.History[2].To)
	assert.Equal(t, 3, r.History[2].Sequence)
	// 进入终态后已存的状态字段值不影响校验
	assert.Equal(t, "none", r.Values["findings"])
}

// TestTransition_Locked 测试终态记录重复转换都返回锁定错误
func TestTransition_Locked(t *testing.T) {
	tpl := auditTemplate()
	r := newRecord(t, tpl)
	actor := actorWith(templatetest.Roles()...)
	require.NoError(t, r.Transition(tpl, "in_progress", nil, actor, "", now))
	require.NoError(t, r.Transition(tpl, "completed", nil, actor, "", now))

	for i := 0; i < 3; i++ {
		err := r.Transition(tpl, "in_progress", nil, actor, "", now)
		assert.True(t, errors.Is(err, types.ErrLockedRecord))
	}
	assert.Len(t, r.History, 3)
}

// TestTransition_Permission 测试转换角色检查
func TestTransition_Permission(t *testing.T) {
	tpl := auditTemplate()
	r := newRecord(t, tpl)

	err := r.Transition(tpl, "in_progress", nil, actorWith(templatetest.RoleViewer), "", now)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))

	require.NoError(t, r.Transition(tpl, "in_progress", nil, actorWith(templatetest.RoleAuditor), "", now))
	err = r.Transition(tpl, "completed", nil, actorWith(templatetest.RoleAuditor), "", now)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))
	assert.Equal(t, "in_progress", r.StateID)

	err = r.Transition(tpl, "ghost", nil, actorWith(templatetest.RoleLead), "", now)
	assert.True(t, errors.Is(err, types.ErrInvalidTransition))
}

// TestTransition_RequiredFields 测试目标状态必填字段
func TestTransition_RequiredFields(t *testing.T) {
	tpl := auditTemplate()
	tpl.State("in_progress").Fields[0].Required = true
	r := newRecord(t, tpl)
	actor := actorWith(templatetest.Roles()...)

	err := r.Transition(tpl, "in_progress", nil, actor, "", now)
	require.True(t, errors.Is(err, types.ErrValidation))
	assert.Equal(t, "findings", types.ViolationsOf(err)[0].Field)
	assert.Equal(t, "scheduled", r.StateID)
	assert.Len(t, r.History, 1)

	err = r.Transition(tpl, "in_progress", map[string]interface{}{"findings": "two minor", "score": 9}, actor, "", now)
	require.True(t, errors.Is(err, types.ErrValidation))
	assert.Equal(t, "score", types.ViolationsOf(err)[0].Field)

	require.NoError(t, r.Transition(tpl, "in_progress", map[string]interface{}{"findings": "two minor", "score": 4}, actor, "", now))
	assert.Equal(t, "two minor", r.Values["findings"])
}

// TestUpdateValues 测试修改字段值
func TestUpdateValues(t *testing.T) {
	tpl := auditTemplate()
	tpl.Fields = append(tpl.Fields, &field.Field{Code: "ref", Type: field.TypeText, ReadOnly: true, FormOrder: 5})
	r := newRecord(t, tpl)

	changed, err := r.UpdateValues(tpl, map[string]interface{}{"scope": "line 3", "title": "Q1 production audit"}, actorWith(templatetest.RoleAuditor), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"scope"}, changed)
	assert.Len(t, r.History, 2)
	assert.Equal(t, types.HistoryUpdated, r.History[1].Kind)

	changed, err = r.UpdateValues(tpl, map[string]interface{}{"scope": "line 3"}, actorWith(templatetest.RoleAuditor), now)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Len(t, r.History, 2)

	_, err = r.UpdateValues(tpl, map[string]interface{}{"ref": "X"}, actorWith(templatetest.RoleAuditor), now)
	assert.True(t, errors.Is(err, types.ErrValidation))

	_, err = r.UpdateValues(tpl, map[string]interface{}{"scope": "y"}, actorWith(templatetest.RoleViewer), now)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))
}

// TestCommentsAndChecklist 测试评论与检查项
func TestCommentsAndChecklist(t *testing.T) {
	tpl := auditTemplate()
	r := newRecord(t, tpl)
	actor := actorWith(templatetest.Roles()...)

	c, err := r.AddComment(tpl, "  kickoff done ", actor, now)
	require.NoError(t, err)
	assert.Equal(t, "kickoff done", c.Text)
	_, err = r.AddComment(tpl, " ", actor, now)
	assert.True(t, errors.Is(err, types.ErrValidation))

	first := r.Checklist[0].ID
	require.NoError(t, r.UpdateChecklist(tpl, []record.ChecklistUpdate{{ID: first, Done: true}, {Label: "Report sent"}}, actor, now))
	require.Len(t, r.Checklist, 3)
	assert.True(t, r.Checklist[0].Done)
	assert.Equal(t, "u-1", r.Checklist[0].DoneBy)
	assert.Equal(t, "Report sent", r.Checklist[2].Label)

	err = r.UpdateChecklist(tpl, []record.ChecklistUpdate{{ID: "missing"}}, actor, now)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	err = r.UpdateChecklist(tpl, []record.ChecklistUpdate{{Label: ""}}, actor, now)
	assert.True(t, errors.Is(err, types.ErrValidation))

	tpl.Config.EnableComments = false
	_, err = r.AddComment(tpl, "x", actor, now)
	assert.True(t, errors.Is(err, types.ErrConflict))
	// 评论与检查项不写入历史
	assert.Len(t, r.History, 1)
}

// TestAttachments 测试附件检查
func TestAttachments(t *testing.T) {
	tpl := auditTemplate()
	tpl.Fields = append(tpl.Fields, &field.Field{Code: "evidence", Type: field.TypeFile, FormOrder: 6})
	r := newRecord(t, tpl)
	actor := actorWith(templatetest.Roles()...)
	limits := record.AttachmentLimits{MaxSize: 10 << 20, AllowedExtensions: []string{"docx"}}

	a, err := r.PrepareAttachment(tpl, record.AttachmentRequest{FileName: "../report.PDF", Size: 2048, FieldCode: "evidence"}, limits, actor, now)
	require.NoError(t, err)
	assert.Equal(t, "report.PDF", a.FileName)
	a.StorageRef = "records/r/report.PDF"
	r.Attach(a)
	assert.Len(t, r.Attachments, 1)
	assert.Equal(t, "records/r/report.PDF", field.AttachmentRef(r.Values["evidence"]))

	_, err = r.PrepareAttachment(tpl, record.AttachmentRequest{FileName: "big.pdf", Size: 2 << 20}, limits, actor, now)
	assert.True(t, errors.Is(err, types.ErrValidation))

	_, err = r.PrepareAttachment(tpl, record.AttachmentRequest{FileName: "run.exe", Size: 10}, limits, actor, now)
	require.True(t, errors.Is(err, types.ErrValidation))
	assert.Equal(t, "extension", types.ViolationsOf(err)[0].Rule)

	_, err = r.PrepareAttachment(tpl, record.AttachmentRequest{FileName: "a.pdf", Size: 10, FieldCode: "title"}, limits, actor, now)
	assert.True(t, errors.Is(err, types.ErrValidation))

	// 模板未配置时使用全局限制
	tpl.Config.AllowedExtensions = nil
	tpl.Config.MaxAttachmentSize = 0
	_, err = r.PrepareAttachment(tpl, record.AttachmentRequest{FileName: "minutes.docx", Size: 5 << 20}, limits, actor, now)
	assert.NoError(t, err)
}

// TestLockedRecordRejectsMutations 测试锁定记录拒绝修改,解锁后恢复
func TestLockedRecordRejectsMutations(t *testing.T) {
	tpl := auditTemplate()
	r := newRecord(t, tpl)
	admin := actorWith(templatetest.Roles()...)

	require.NoError(t, r.ToggleLock(tpl, admin, "freeze", now))
	assert.True(t, r.Locked)

	_, err := r.AddComment(tpl, "x", admin, now)
	assert.True(t, errors.Is(err, types.ErrLockedRecord))
	_, err = r.PrepareAttachment(tpl, record.AttachmentRequest{FileName: "a.pdf", Size: 1}, record.AttachmentLimits{}, admin, now)
	assert.True(t, errors.Is(err, types.ErrLockedRecord))
	assert.True(t, errors.Is(r.UpdateChecklist(tpl, nil, admin, now), types.ErrLockedRecord))
	_, err = r.UpdateValues(tpl, map[string]interface{}{"scope": "x"}, admin, now)
	assert.True(t, errors.Is(err, types.ErrLockedRecord))

	assert.True(t, errors.Is(r.ToggleLock(tpl, actorWith(templatetest.RoleAuditor), "", now), types.ErrPermissionDenied))
	require.NoError(t, r.ToggleLock(tpl, actorWith(types.RoleAdmin), "", now))
	assert.False(t, r.Locked)
	require.Len(t, r.History, 3)
	assert.Equal(t, types.HistoryLocked, r.History[1].Kind)
	assert.Equal(t, types.HistoryUnlocked, r.History[2].Kind)
}

// TestUnlockedFinalStateStaysTerminal 测试解锁后的终态仍不能转换
func TestUnlockedFinalStateStaysTerminal(t *testing.T) {
	tpl := auditTemplate()
	r := newRecord(t, tpl)
	actor := actorWith(templatetest.Roles()...)
	require.NoError(t, r.Transition(tpl, "in_progress", nil, actor, "", now))
	require.NoError(t, r.Transition(tpl, "completed", nil, actor, "", now))
	require.NoError(t, r.ToggleLock(tpl, actor, "", now))

	err := r.Transition(tpl, "in_progress", nil, actor, "", now)
	assert.True(t, errors.Is(err, types.ErrInvalidTransition))
	_, err = r.AddComment(tpl, "post-closure note", actor, now)
	assert.NoError(t, err)
}

// TestCloneRecord 测试复制记录
func TestCloneRecord(t *testing.T) {
	tpl := auditTemplate()
	src := newRecord(t, tpl)
	actor := actorWith(templatetest.Roles()...)
	require.NoError(t, src.Transition(tpl, "in_progress", map[string]interface{}{"findings": "ok"}, actor, "", now))

	c, err := record.CloneRecord(src, tpl, actor, now)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, c.ID)
	assert.Equal(t, "scheduled", c.StateID)
	assert.Equal(t, "ok", c.Values["findings"])
	require.Len(t, c.History, 1)
	assert.Equal(t, types.HistoryCloned, c.History[0].Kind)

	c.Values["title"] = "changed"
	assert.Equal(t, "Q1 production audit", src.Values["title"])

	_, err = record.CloneRecord(src, tpl, actorWith(templatetest.RoleLead), now)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))
}

// TestCloneRecord_DropsUneditableValues 测试复制时丢弃调用者无权编辑的字段值
func TestCloneRecord_DropsUneditableValues(t *testing.T) {
	tpl := auditTemplate()
	src, err := record.New(tpl, map[string]interface{}{"title": "Budgeted audit", "budget": 2500.0}, actorWith(templatetest.Roles()...), now)
	require.NoError(t, err)

	c, err := record.CloneRecord(src, tpl, actorWith(templatetest.RoleAuditor), now)
	require.NoError(t, err)
	assert.Equal(t, "Budgeted audit", c.Values["title"])
	assert.NotContains(t, c.Values, "budget")

	c, err = record.CloneRecord(src, tpl, actorWith(templatetest.Roles()...), now)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, c.Values["budget"])
}

// TestNextStatesAndVisibility 测试可执行的下一状态与字段可见性
func TestNextStatesAndVisibility(t *testing.T) {
	tpl := auditTemplate()
	r, err := record.New(tpl, map[string]interface{}{"title": "t", "budget": 1000}, actorWith(templatetest.Roles()...), now)
	require.NoError(t, err)

	next := r.NextStates(tpl, []string{templatetest.RoleAuditor})
	require.Len(t, next, 1)
	assert.Equal(t, "in_progress", next[0].ID)
	assert.Empty(t, r.NextStates(tpl, []string{templatetest.RoleLead}))

	visible := r.VisibleTo(tpl, []string{templatetest.RoleAuditor})
	assert.NotContains(t, visible.Values, "budget")
	assert.Contains(t, r.Values, "budget")
	assert.Contains(t, r.VisibleTo(tpl, []string{templatetest.RoleLead}).Values, "budget")
}

// TestArchive 测试归档
func TestArchive(t *testing.T) {
	tpl := auditTemplate()
	r := newRecord(t, tpl)
	actor := actorWith(templatetest.Roles()...)

	require.NoError(t, r.Archive(tpl, actor, now))
	assert.True(t, r.Archived())
	assert.True(t, errors.Is(r.Archive(tpl, actor, now), types.ErrConflict))
}
