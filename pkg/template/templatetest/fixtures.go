// Package templatetest 提供测试用的模板样例
package templatetest

import (
	"github.com/mautops/record-gin/pkg/field"
	"github.com/mautops/record-gin/pkg/numbering"
	"github.com/mautops/record-gin/pkg/statemachine"
	"github.com/mautops/record-gin/pkg/template"
)

// 样例使用的角色
const (
	RoleAuditor = "auditor"
	RoleLead    = "lead_auditor"
	RoleViewer  = "viewer"
)

// InternalAudit 内部审核模板: Scheduled(初始) -> InProgress -> Completed(终态)
// 编号按年重置,前缀 AUD
func InternalAudit() *template.Template {
	return &template.Template{
		Code:           "AUD",
		Name:           "Internal Audit",
		Description:    "ISO 9001 internal audit program",
		OrganizationID: "org-1",
		Active:         true,
		Fields: []*field.Field{
			{ID: "f-title", Code: "title", Label: "Title", Type: field.TypeText, Required: true, ShowInCard: true, FormOrder: 1, CardOrder: 1,
				Rules: []field.Rule{{Type: field.RuleMaxLength, Value: "120"}}},
			{ID: "f-area", Code: "area", Label: "Area", Type: field.TypeSelect, FormOrder: 2, ShowInCard: true, CardOrder: 2,
				Options: []field.Option{{Value: "production"}, {Value: "purchasing"}, {Value: "hr"}}, DefaultValue: "production"},
			{ID: "f-scope", Code: "scope", Label: "Scope", Type: field.TypeLongText, FormOrder: 3},
			{ID: "f-budget", Code: "budget", Label: "Budget", Type: field.TypeNumber, FormOrder: 4,
				ViewRoles: []string{RoleLead}, EditRoles: []string{RoleLead}},
		},
		States: []*statemachine.State{
			{
				ID: "scheduled", Code: "SCH", Name: "Scheduled", Order: 1, IsInitial: true,
				Transitions: []string{"in_progress"},
				Roles: statemachine.StateRoles{
					Create:        []string{RoleAuditor},
					Edit:          []string{RoleAuditor, RoleLead},
					TransitionOut: []string{RoleAuditor},
				},
			},
			{
				ID: "in_progress", Code: "INP", Name: "In Progress", Order: 2,
				Transitions: []string{"completed"},
				Fields: []*field.Field{
					{ID: "f-findings", Code: "findings", Label: "Findings", Type: field.TypeLongText, FormOrder: 10},
					{ID: "f-score", Code: "score", Label: "Score", Type: field.TypeRating, FormOrder: 11, ShowInCard: true, CardOrder: 3},
				},
				SLA: &statemachine.SLAConfig{MaxDays: 10, AlertDays: 2, ExcludeWeekends: true},
				Roles: statemachine.StateRoles{
					Edit:          []string{RoleAuditor, RoleLead},
					TransitionIn:  []string{RoleAuditor},
					TransitionOut: []string{RoleLead},
				},
			},
			{
				ID: "completed", Code: "CMP", Name: "Completed", Order: 3, IsFinal: true,
				Roles: statemachine.StateRoles{TransitionIn: []string{RoleLead}},
			},
		},
		Config: template.Config{
			Numbering:         numbering.Config{Prefix: "AUD", Period: numbering.PeriodYearly, Padding: 4},
			EnableComments:    true,
			EnableAttachments: true,
			EnableChecklist:   true,
			Checklist:         []string{"Plan approved", "Evidence collected"},
			MaxAttachmentSize: 1 << 20,
			AllowedExtensions: []string{".pdf", ".png"},
		},
		Permissions: template.Permissions{
			Admin:  []string{RoleLead},
			Export: []string{RoleLead},
		},
	}
}

// Roles 样例操作者的完整角色集合
func Roles() []string {
	return []string{RoleAuditor, RoleLead}
}
