package template

import (
	"github.com/mautops/record-gin/pkg/statemachine"
	"github.com/mautops/record-gin/pkg/types"
)

// 以下操作直接修改模板结构,调用方应在副本上执行,再对整个模板重新校验

// AddState 追加状态,未指定顺序时排在最后
func (t *Template) AddState(s *statemachine.State) error {
	if s == nil || s.ID == "" {
		return types.NewValidationError([]types.Violation{{Field: "id", Rule: "required", Message: "state id is required"}})
	}
	if t.State(s.ID) != nil {
		return types.Conflictf("state %q already exists", s.ID)
	}
	if s.Order == 0 {
		maxOrder := 0
		for _, existing := range t.States {
			if existing != nil && existing.Order > maxOrder {
				maxOrder = existing.Order
			}
		}
		s.Order = maxOrder + 1
	}
	t.States = append(t.States, s)
	return nil
}

// UpdateState 替换状态定义,状态 ID 保持不变
func (t *Template) UpdateState(id string, s *statemachine.State) error {
	if s == nil {
		return types.NewValidationError([]types.Violation{{Field: "state", Rule: "required", Message: "state definition is required"}})
	}
	for i, existing := range t.States {
		if existing != nil && existing.ID == id {
			s.ID = id
			t.States[i] = s
			return nil
		}
	}
	return types.NotFoundf("state %q", id)
}

// RemoveState 删除状态,并移除其他状态指向它的转换
func (t *Template) RemoveState(id string) error {
	idx := -1
	for i, s := range t.States {
		if s != nil && s.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return types.NotFoundf("state %q", id)
	}
	t.States = append(t.States[:idx:idx], t.States[idx+1:]...)
	for _, s := range t.States {
		if s == nil {
			continue
		}
		kept := s.Transitions[:0:0]
		for _, to := range s.Transitions {
			if to != id {
				kept = append(kept, to)
			}
		}
		s.Transitions = kept
	}
	return nil
}

// ReorderStates 按给定 ID 顺序重排状态,必须覆盖全部状态
func (t *Template) ReorderStates(ids []string) error {
	if len(ids) != len(t.States) {
		return types.NewValidationError([]types.Violation{{Field: "order", Rule: "required", Message: "order must list every state exactly once"}})
	}
	reordered := make([]*statemachine.State, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		s := t.State(id)
		if s == nil {
			return types.NotFoundf("state %q", id)
		}
		if seen[id] {
			return types.NewValidationError([]types.Violation{{Field: "order", Rule: "duplicate", Message: "state " + id + " is listed twice"}})
		}
		seen[id] = true
		reordered = append(reordered, s)
	}
	for i, s := range reordered {
		s.Order = i + 1
	}
	t.States = reordered
	return nil
}
