package template_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mautops/record-gin/pkg/field"
	"github.com/mautops/record-gin/pkg/statemachine"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/mautops/record-gin/pkg/template/templatetest"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func violationFields(vs []types.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Field)
	}
	return out
}

// TestValidate_Valid 测试合法模板
func TestValidate_Valid(t *testing.T) {
	assert.Empty(t, template.Validate(templatetest.InternalAudit()))
	assert.NoError(t, template.ValidationError(templatetest.InternalAudit()))
}

// TestValidate_Nil 测试空模板
func TestValidate_Nil(t *testing.T) {
	vs := template.Validate(nil)
	require.Len(t, vs, 1)
	assert.Equal(t, "template", vs[0].Field)
}

// TestValidate_BasicInfo 测试编码与名称
func TestValidate_BasicInfo(t *testing.T) {
	tpl := templatetest.InternalAudit()
	tpl.Code = "1bad code"
	tpl.Name = ""
	fields := violationFields(template.Validate(tpl))
	assert.Contains(t, fields, "code")
	assert.Contains(t, fields, "name")
}

// TestValidate_FieldCodes 测试字段编码重复与遮蔽
func TestValidate_FieldCodes(t *testing.T) {
	tpl := templatetest.InternalAudit()
	tpl.Fields = append(tpl.Fields, &field.Field{Code: "title", Type: field.TypeText})
	tpl.States[1].Fields = append(tpl.States[1].Fields, &field.Field{Code: "scope", Type: field.TypeText})

	fields := violationFields(template.Validate(tpl))
	assert.Contains(t, fields, "fields[4].code")
	assert.Contains(t, fields, "states[1].fields[2].code")
}

// TestValidate_FieldDefinitions 测试字段类型、选项、规则与默认值
func TestValidate_FieldDefinitions(t *testing.T) {
	tpl := templatetest.InternalAudit()
	tpl.Fields = append(tpl.Fields,
		&field.Field{Code: "kind", Type: "matrix"},
		&field.Field{Code: "level", Type: field.TypeSelect},
		&field.Field{Code: "ref", Type: field.TypeText, Rules: []field.Rule{{Type: field.RulePattern, Value: "("}}},
		&field.Field{Code: "count", Type: field.TypeNumber, DefaultValue: "many"},
	)
	fields := violationFields(template.Validate(tpl))
	assert.Contains(t, fields, "fields[4].type")
	assert.Contains(t, fields, "fields[5].options")
	assert.Contains(t, fields, "fields[6].rules[0]")
	assert.Contains(t, fields, "fields[7].default_value")
}

// TestValidate_GraphAndConfig 测试状态图与配置错误一并返回
func TestValidate_GraphAndConfig(t *testing.T) {
	tpl := templatetest.InternalAudit()
	tpl.States[2].IsFinal = false
	tpl.Config.Numbering.Period = "weekly"
	tpl.Config.Webhooks = []template.Webhook{{URL: "ftp://example.com"}}

	err := template.ValidationError(tpl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
	fields := violationFields(types.ViolationsOf(err))
	assert.Contains(t, fields, "states")
	assert.Contains(t, fields, "config.numbering.period")
	assert.Contains(t, fields, "config.webhooks[0].url")
}

// TestClone_Independent 测试克隆后的修改不影响原模板
func TestClone_Independent(t *testing.T) {
	src := templatetest.InternalAudit()
	c := src.Clone()

	c.States[0].Transitions[0] = "completed"
	c.States[1].Fields[0].Label = "changed"
	c.States[1].SLA.MaxDays = 99
	c.Fields[0].Rules[0].Value = "1"
	c.Config.Checklist[0] = "changed"
	c.Permissions.Admin[0] = "someone"

	assert.Equal(t, "in_progress", src.States[0].Transitions[0])
	assert.Equal(t, "Findings", src.States[1].Fields[0].Label)
	assert.Equal(t, 10, src.States[1].SLA.MaxDays)
	assert.Equal(t, "120", src.Fields[0].Rules[0].Value)
	assert.Equal(t, "Plan approved", src.Config.Checklist[0])
	assert.Equal(t, templatetest.RoleLead, src.Permissions.Admin[0])
}

// TestEffectiveFields 测试有效字段合并与排序
func TestEffectiveFields(t *testing.T) {
	tpl := templatetest.InternalAudit()

	codes := func(fs []*field.Field) []string {
		out := make([]string, 0, len(fs))
		for _, f := range fs {
			out = append(out, f.Code)
		}
		return out
	}
	assert.Equal(t, []string{"title", "area", "scope", "budget"}, codes(tpl.EffectiveFields("scheduled")))
	assert.Equal(t, []string{"title", "area", "scope", "budget", "findings", "score"}, codes(tpl.EffectiveFields("in_progress")))
	assert.Len(t, tpl.AllFields(), 6)
}

// TestPreview 测试预览不做权限过滤
func TestPreview(t *testing.T) {
	tpl := templatetest.InternalAudit()
	schema := template.Preview(tpl)

	require.Len(t, schema.States, 3)
	assert.Equal(t, "scheduled", schema.States[0].ID)
	assert.Len(t, schema.States[1].Fields, 6)
	assert.Len(t, schema.States[1].CardFields, 3)
	assert.Equal(t, []string{"completed"}, schema.States[1].NextStates)
	assert.Nil(t, schema.States[0].CanCreate)

	// 预览结果与模板相互独立
	schema.States[1].Fields[0].Label = "changed"
	assert.Equal(t, "Title", tpl.Fields[0].Label)
}

// TestPreviewFor 测试按角色过滤的预览
func TestPreviewFor(t *testing.T) {
	tpl := templatetest.InternalAudit()

	schema := template.PreviewFor(tpl, []string{templatetest.RoleAuditor})
	assert.Len(t, schema.Fields, 3)
	require.NotNil(t, schema.States[0].CanCreate)
	assert.True(t, *schema.States[0].CanCreate)
	assert.False(t, *schema.States[2].CanEdit)

	schema = template.PreviewFor(tpl, []string{templatetest.RoleLead})
	assert.Len(t, schema.Fields, 4)
	assert.False(t, *schema.States[0].CanCreate)
}

// TestStateOperations 测试状态增删改与重排
func TestStateOperations(t *testing.T) {
	tpl := templatetest.InternalAudit()

	review := &statemachine.State{ID: "review", Name: "Review", Transitions: []string{"completed"}}
	require.NoError(t, tpl.AddState(review))
	assert.Equal(t, 4, review.Order)
	assert.True(t, errors.Is(tpl.AddState(&statemachine.State{ID: "review"}), types.ErrConflict))

	tpl.States[1].Transitions = append(tpl.States[1].Transitions, "review")
	require.NoError(t, tpl.UpdateState("review", &statemachine.State{ID: "other", Name: "Peer Review", Order: 4, Transitions: []string{"completed"}}))
	assert.Equal(t, "Peer Review", tpl.State("review").Name)
	assert.Empty(t, template.Validate(tpl))

	require.NoError(t, tpl.ReorderStates([]string{"scheduled", "review", "in_progress", "completed"}))
	assert.Equal(t, 2, tpl.State("review").Order)
	assert.Equal(t, "review", tpl.States[1].ID)
	assert.Error(t, tpl.ReorderStates([]string{"scheduled"}))
	assert.True(t, errors.Is(tpl.ReorderStates([]string{"scheduled", "review", "in_progress", "ghost"}), types.ErrNotFound))

	require.NoError(t, tpl.RemoveState("review"))
	assert.Equal(t, []string{"completed"}, tpl.State("in_progress").Transitions)
	assert.True(t, errors.Is(tpl.RemoveState("review"), types.ErrNotFound))
	assert.True(t, errors.Is(tpl.UpdateState("review", &statemachine.State{}), types.ErrNotFound))
}

// TestRemoveState_BreaksGraph 测试删除状态后整体校验发现孤立状态
func TestRemoveState_BreaksGraph(t *testing.T) {
	tpl := templatetest.InternalAudit()
	require.NoError(t, tpl.RemoveState("completed"))
	rules := make([]string, 0)
	for _, v := range template.Validate(tpl) {
		rules = append(rules, v.Rule)
	}
	assert.Contains(t, rules, "final")
	assert.Contains(t, rules, "orphan")
}

// TestDiff 测试模板差异文本
func TestDiff(t *testing.T) {
	before := templatetest.InternalAudit()
	after := before.Clone()
	after.Name = "Internal Audit 2025"
	after.Version = 2

	diff, err := template.Diff(before, after)
	require.NoError(t, err)
	assert.Contains(t, diff, "-   name: Internal Audit\n")
	assert.Contains(t, diff, "+   name: Internal Audit 2025\n")
	assert.NotContains(t, diff, "version")

	diff, err = template.Diff(before, before.Clone())
	require.NoError(t, err)
	assert.Empty(t, diff)
}

// TestCodec_RoundTrip 测试 YAML 导出导入
func TestCodec_RoundTrip(t *testing.T) {
	src := templatetest.InternalAudit()

	data, err := template.MarshalYAML(src)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "apiVersion: record-gin/v1"))

	got, err := template.UnmarshalYAML(data)
	require.NoError(t, err)
	assert.Equal(t, src.Code, got.Code)
	assert.Len(t, got.States, 3)
	assert.Equal(t, 10, got.State("in_progress").SLA.MaxDays)
	assert.Empty(t, template.Validate(got))
}

// TestCodec_MultiDocument 测试多文档流与类型校验
func TestCodec_MultiDocument(t *testing.T) {
	a := templatetest.InternalAudit()
	b := templatetest.InternalAudit()
	b.Code = "AUD2"

	var buf bytes.Buffer
	require.NoError(t, template.EncodeAll(&buf, []*template.Template{a, b}))
	list, err := template.DecodeAll(&buf)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "AUD2", list[1].Code)

	_, err = template.UnmarshalYAML([]byte("apiVersion: v1\nkind: Other\n"))
	assert.True(t, errors.Is(err, types.ErrValidation))
}

// TestCodec_NonFiniteDefault 测试导入 .inf 默认值时返回校验错误
func TestCodec_NonFiniteDefault(t *testing.T) {
	src := templatetest.InternalAudit()
	idx := -1
	for i, f := range src.Fields {
		if f.Code == "budget" {
			f.DefaultValue = "INFINITY_PLACEHOLDER"
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	data, err := template.MarshalYAML(src)
	require.NoError(t, err)
	data = bytes.Replace(data, []byte("INFINITY_PLACEHOLDER"), []byte(".inf"), 1)

	got, err := template.UnmarshalYAML(data)
	require.NoError(t, err)

	var vs []types.Violation
	assert.NotPanics(t, func() { vs = template.Validate(got) })
	assert.Contains(t, violationFields(vs), fmt.Sprintf("fields[%d].default_value", idx))
}
