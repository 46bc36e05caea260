package statemachine

import (
	"github.com/mautops/record-gin/pkg/field"
)

// State 工作流中的一个阶段
type State struct {
	ID          string         `json:"id" yaml:"id"`
	Code        string         `json:"code" yaml:"code"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Order       int            `json:"order" yaml:"order"`
	Color       string         `json:"color,omitempty" yaml:"color,omitempty"`
	IsInitial   bool           `json:"is_initial" yaml:"is_initial"`
	IsFinal     bool           `json:"is_final" yaml:"is_final"`
	Fields      []*field.Field `json:"fields,omitempty" yaml:"fields,omitempty"`
	Transitions []string       `json:"transitions,omitempty" yaml:"transitions,omitempty"` // 允许的目标状态 ID
	SLA         *SLAConfig     `json:"sla,omitempty" yaml:"sla,omitempty"`
	Roles       StateRoles     `json:"roles" yaml:"roles"`
}

// StateRoles 状态级角色集合
type StateRoles struct {
	Create        []string `json:"create,omitempty" yaml:"create,omitempty"`                 // 可在此状态创建记录
	Edit          []string `json:"edit,omitempty" yaml:"edit,omitempty"`                     // 可编辑此状态下的记录
	TransitionOut []string `json:"transition_out,omitempty" yaml:"transition_out,omitempty"` // 可将记录移出此状态
	TransitionIn  []string `json:"transition_in,omitempty" yaml:"transition_in,omitempty"`   // 可将记录移入此状态
}

// Clone 深拷贝状态
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = field.CloneAll(s.Fields)
	c.Transitions = append([]string(nil), s.Transitions...)
	if s.SLA != nil {
		sla := *s.SLA
		sla.Holidays = append([]string(nil), s.SLA.Holidays...)
		c.SLA = &sla
	}
	c.Roles = StateRoles{
		Create:        append([]string(nil), s.Roles.Create...),
		Edit:          append([]string(nil), s.Roles.Edit...),
		TransitionOut: append([]string(nil), s.Roles.TransitionOut...),
		TransitionIn:  append([]string(nil), s.Roles.TransitionIn...),
	}
	return &c
}

// HasTransition 判断是否声明了到目标状态的边
func (s *State) HasTransition(to string) bool {
	for _, id := range s.Transitions {
		if id == to {
			return true
		}
	}
	return false
}

// Find 按 ID 查找状态
func Find(states []*State, id string) *State {
	for _, s := range states {
		if s != nil && s.ID == id {
			return s
		}
	}
	return nil
}

// Initial 返回初始状态,不存在时返回 nil
func Initial(states []*State) *State {
	for _, s := range states {
		if s != nil && s.IsInitial {
			return s
		}
	}
	return nil
}
