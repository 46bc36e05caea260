package template

import (
	"github.com/mautops/record-gin/pkg/field"
	"github.com/mautops/record-gin/pkg/statemachine"
	"github.com/mautops/record-gin/pkg/types"
)

// EffectiveSchema 模板解析后的有效字段视图,供表单与看板渲染
type EffectiveSchema struct {
	TemplateID string         `json:"template_id"`
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	Version    int            `json:"version"`
	Fields     []*field.Field `json:"fields"` // 模板级字段
	States     []StateSchema  `json:"states"`
}

// StateSchema 单个状态的有效字段
type StateSchema struct {
	ID         string                  `json:"id"`
	Code       string                  `json:"code"`
	Name       string                  `json:"name"`
	Color      string                  `json:"color,omitempty"`
	Order      int                     `json:"order"`
	IsInitial  bool                    `json:"is_initial"`
	IsFinal    bool                    `json:"is_final"`
	Fields     []*field.Field          `json:"fields"`
	CardFields []*field.Field          `json:"card_fields"`
	NextStates []string                `json:"next_states"`
	SLA        *statemachine.SLAConfig `json:"sla,omitempty"`
	CanCreate  *bool                   `json:"can_create,omitempty"`
	CanEdit    *bool                   `json:"can_edit,omitempty"`
}

// Preview 返回每个状态的有效字段集合,不做权限过滤
func Preview(t *Template) *EffectiveSchema {
	return preview(t, nil, false)
}

// PreviewFor 按调用者角色过滤不可见字段,并标注可创建/可编辑的状态
func PreviewFor(t *Template, roles []string) *EffectiveSchema {
	return preview(t, roles, true)
}

func preview(t *Template, roles []string, scoped bool) *EffectiveSchema {
	visible := func(fields []*field.Field) []*field.Field {
		out := make([]*field.Field, 0, len(fields))
		for _, f := range fields {
			if scoped && !types.Permits(roles, f.ViewRoles) {
				continue
			}
			out = append(out, f.Clone())
		}
		return out
	}

	schema := &EffectiveSchema{
		TemplateID: t.ID,
		Code:       t.Code,
		Name:       t.Name,
		Version:    t.Version,
		Fields:     visible(field.Effective(t.Fields, nil)),
	}
	for _, s := range t.OrderedStates() {
		if s == nil {
			continue
		}
		effective := visible(field.Effective(t.Fields, s.Fields))
		ss := StateSchema{
			ID:         s.ID,
			Code:       s.Code,
			Name:       s.Name,
			Color:      s.Color,
			Order:      s.Order,
			IsInitial:  s.IsInitial,
			IsFinal:    s.IsFinal,
			Fields:     effective,
			CardFields: field.CardFields(effective),
			NextStates: statemachine.AllowedNextStates(s),
		}
		if s.SLA != nil {
			sla := *s.SLA
			ss.SLA = &sla
		}
		if scoped {
			canCreate := s.IsInitial && types.HasRole(roles, s.Roles.Create)
			canEdit := types.HasRole(roles, s.Roles.Edit)
			ss.CanCreate, ss.CanEdit = &canCreate, &canEdit
		}
		schema.States = append(schema.States, ss)
	}
	return schema
}
