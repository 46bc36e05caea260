package statemachine

import (
	"fmt"

	"github.com/mautops/record-gin/pkg/types"
)

// ValidateGraph 校验状态图结构
// 纯函数,可以并发重复调用
func ValidateGraph(states []*State) []types.Violation {
	var violations []types.Violation
	add := func(path, rule, msg string) {
		violations = append(violations, types.Violation{Field: path, Rule: rule, Message: msg})
	}

	if len(states) == 0 {
		add("states", "required", "template must declare at least one state")
		return violations
	}

	ids := make(map[string]int, len(states))
	initialCount, finalCount := 0, 0
	for i, s := range states {
		path := fmt.Sprintf("states[%d]", i)
		if s == nil {
			add(path, "required", "state must not be null")
			continue
		}
		if s.ID == "" {
			add(path+".id", "required", "state id is required")
		} else if prev, dup := ids[s.ID]; dup {
			add(path+".id", "duplicate", fmt.Sprintf("state id %q already used by states[%d]", s.ID, prev))
		} else {
			ids[s.ID] = i
		}
		if s.IsInitial {
			initialCount++
		}
		if s.IsFinal {
			finalCount++
		}
	}

	switch {
	case initialCount == 0:
		add("states", "initial", "exactly one initial state is required, found none")
	case initialCount > 1:
		add("states", "initial", fmt.Sprintf("exactly one initial state is required, found %d", initialCount))
	}
	if finalCount == 0 {
		add("states", "final", "at least one final state is required")
	}

	for i, s := range states {
		if s == nil {
			continue
		}
		path := fmt.Sprintf("states[%d]", i)
		valid := 0
		for _, to := range s.Transitions {
			if _, ok := ids[to]; !ok {
				add(path+".transitions", "reference", fmt.Sprintf("transition targets unknown state %q", to))
				continue
			}
			valid++
		}
		if !s.IsFinal && valid == 0 {
			add(path+".transitions", "orphan", fmt.Sprintf("non-final state %q has no outgoing transition", s.ID))
		}
		if s.SLA != nil {
			violations = append(violations, s.SLA.validate(path+".sla")...)
		}
	}

	return violations
}

// AllowedNextStates 返回声明的转换列表,不补充隐式边
func AllowedNextStates(s *State) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.Transitions...)
}

// CanTransition 判断角色能否把记录从 from 移到 to
func CanTransition(actorRoles []string, from, to *State) bool {
	return CheckTransition(actorRoles, from, to) == nil
}

// CheckTransition 与 CanTransition 判定相同,但返回具体错误类型
// 目标不可达返回 ErrInvalidTransition,角色不满足返回 ErrPermissionDenied
func CheckTransition(actorRoles []string, from, to *State) error {
	if from == nil || to == nil {
		return types.InvalidTransitionf("unknown state")
	}
	if !from.HasTransition(to.ID) {
		return types.InvalidTransitionf("state %q cannot transition to %q", from.ID, to.ID)
	}
	if !types.HasRole(actorRoles, from.Roles.TransitionOut) {
		return types.PermissionDeniedf("roles cannot move records out of state %q", from.ID)
	}
	if !types.HasRole(actorRoles, to.Roles.TransitionIn) {
		return types.PermissionDeniedf("roles cannot move records into state %q", to.ID)
	}
	return nil
}
