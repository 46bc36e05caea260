package statemachine_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mautops/record-gin/pkg/statemachine"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// auditStates 内部审核流程: Scheduled -> InProgress -> Completed
func auditStates() []*statemachine.State {
	return []*statemachine.State{
		{
			ID: "scheduled", Code: "SCH", Name: "Scheduled", Order: 1, IsInitial: true,
			Transitions: []string{"in_progress"},
			Roles:       statemachine.StateRoles{Create: []string{"auditor"}, TransitionOut: []string{"auditor"}},
		},
		{
			ID: "in_progress", Code: "INP", Name: "In Progress", Order: 2,
			Transitions: []string{"completed"},
			Roles:       statemachine.StateRoles{TransitionIn: []string{"auditor"}, TransitionOut: []string{"lead"}},
		},
		{
			ID: "completed", Code: "CMP", Name: "Completed", Order: 3, IsFinal: true,
			Roles: statemachine.StateRoles{TransitionIn: []string{"lead"}},
		},
	}
}

func rulesOf(vs []types.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

// TestValidateGraph_Valid 测试合法状态图
func TestValidateGraph_Valid(t *testing.T) {
	assert.Empty(t, statemachine.ValidateGraph(auditStates()))
}

// TestValidateGraph_Empty 测试空状态列表
func TestValidateGraph_Empty(t *testing.T) {
	vs := statemachine.ValidateGraph(nil)
	require.Len(t, vs, 1)
	assert.Equal(t, "required", vs[0].Rule)
}

// TestValidateGraph_InitialCount 测试初始状态数量
func TestValidateGraph_InitialCount(t *testing.T) {
	states := auditStates()
	states[0].IsInitial = false
	assert.Contains(t, rulesOf(statemachine.ValidateGraph(states)), "initial")

	states = auditStates()
	states[1].IsInitial = true
	vs := statemachine.ValidateGraph(states)
	assert.Contains(t, rulesOf(vs), "initial")
	assert.Contains(t, vs[0].Message, "found 2")
}

// TestValidateGraph_MissingFinal 测试缺少终态
func TestValidateGraph_MissingFinal(t *testing.T) {
	states := auditStates()
	states[2].IsFinal = false
	states[2].Transitions = []string{"scheduled"}
	assert.Equal(t, []string{"final"}, rulesOf(statemachine.ValidateGraph(states)))
}

// TestValidateGraph_DanglingAndOrphan 测试悬空转换与孤立状态
func TestValidateGraph_DanglingAndOrphan(t *testing.T) {
	states := auditStates()
	states[1].Transitions = []string{"archived"}
	vs := statemachine.ValidateGraph(states)
	assert.ElementsMatch(t, []string{"reference", "orphan"}, rulesOf(vs))
	assert.Equal(t, "states[1].transitions", vs[0].Field)
}

// TestValidateGraph_DuplicateID 测试重复状态 ID
func TestValidateGraph_DuplicateID(t *testing.T) {
	states := auditStates()
	states[2].ID = "in_progress"
	vs := statemachine.ValidateGraph(states)
	assert.Contains(t, rulesOf(vs), "duplicate")
}

// TestValidateGraph_SLA 测试 SLA 配置校验
func TestValidateGraph_SLA(t *testing.T) {
	states := auditStates()
	states[1].SLA = &statemachine.SLAConfig{MaxDays: 2, AlertDays: 5, Holidays: []string{"2024-13-01"}}
	vs := statemachine.ValidateGraph(states)
	require.Len(t, vs, 2)
	assert.Equal(t, "states[1].sla.alert_days", vs[0].Field)
	assert.Equal(t, "states[1].sla.holidays", vs[1].Field)
}

// TestAllowedNextStates 测试返回声明的转换副本
func TestAllowedNextStates(t *testing.T) {
	states := auditStates()
	next := statemachine.AllowedNextStates(states[0])
	assert.Equal(t, []string{"in_progress"}, next)

	next[0] = "mutated"
	assert.Equal(t, "in_progress", states[0].Transitions[0])
	assert.Nil(t, statemachine.AllowedNextStates(nil))
	assert.Empty(t, statemachine.AllowedNextStates(states[2]))
}

// TestCheckTransition 测试转换判定与错误分类
func TestCheckTransition(t *testing.T) {
	states := auditStates()
	scheduled, inProgress, completed := states[0], states[1], states[2]

	assert.NoError(t, statemachine.CheckTransition([]string{"auditor"}, scheduled, inProgress))
	assert.True(t, statemachine.CanTransition([]string{"auditor"}, scheduled, inProgress))

	err := statemachine.CheckTransition([]string{"auditor", "lead"}, scheduled, completed)
	assert.True(t, errors.Is(err, types.ErrInvalidTransition))

	err = statemachine.CheckTransition([]string{"viewer"}, scheduled, inProgress)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))

	// 能移出但不能移入
	err = statemachine.CheckTransition([]string{"lead"}, inProgress, completed)
	assert.NoError(t, err)
	err = statemachine.CheckTransition([]string{"auditor"}, inProgress, completed)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))

	err = statemachine.CheckTransition([]string{"lead"}, completed, inProgress)
	assert.True(t, errors.Is(err, types.ErrInvalidTransition))
	assert.False(t, statemachine.CanTransition([]string{"lead"}, nil, completed))
}

// genGraph 生成随机状态图
func genGraph(t *rapid.T) []*statemachine.State {
	n := rapid.IntRange(1, 8).Draw(t, "n")
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%d", i)
	}
	pool := append(append([]string(nil), ids...), "ghost")
	states := make([]*statemachine.State, n)
	for i := range states {
		s := &statemachine.State{
			ID:        ids[i],
			IsInitial: rapid.Bool().Draw(t, fmt.Sprintf("initial%d", i)),
			IsFinal:   rapid.Bool().Draw(t, fmt.Sprintf("final%d", i)),
		}
		edges := rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("edges%d", i))
		for j := 0; j < edges; j++ {
			s.Transitions = append(s.Transitions, rapid.SampledFrom(pool).Draw(t, fmt.Sprintf("to%d_%d", i, j)))
		}
		states[i] = s
	}
	return states
}

// TestValidateGraph_Property 无错误当且仅当恰有一个初始态、至少一个终态、非终态均有合法出边
func TestValidateGraph_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		states := genGraph(t)

		initial, final := 0, 0
		wellFormed := true
		ids := map[string]bool{}
		for _, s := range states {
			ids[s.ID] = true
		}
		for _, s := range states {
			if s.IsInitial {
				initial++
			}
			if s.IsFinal {
				final++
			}
			valid := 0
			for _, to := range s.Transitions {
				if !ids[to] {
					wellFormed = false
					continue
				}
				valid++
			}
			if !s.IsFinal && valid == 0 {
				wellFormed = false
			}
		}
		expectOK := initial == 1 && final >= 1 && wellFormed

		vs := statemachine.ValidateGraph(states)
		if expectOK != (len(vs) == 0) {
			t.Fatalf("expected ok=%v, got violations %v", expectOK, vs)
		}
	})
}

// TestCanTransition_Property 转换允许当且仅当存在边且两侧角色均有交集
func TestCanTransition_Property(t *testing.T) {
	roles := []string{"a", "b", "c", "d"}
	rapid.Check(t, func(t *rapid.T) {
		subset := func(label string) []string {
			return rapid.SliceOfDistinct(rapid.SampledFrom(roles), func(s string) string { return s }).Draw(t, label)
		}
		from := &statemachine.State{ID: "from", Roles: statemachine.StateRoles{TransitionOut: subset("out")}}
		to := &statemachine.State{ID: "to", Roles: statemachine.StateRoles{TransitionIn: subset("in")}}
		if rapid.Bool().Draw(t, "edge") {
			from.Transitions = []string{"to"}
		}
		actor := subset("actor")

		expect := from.HasTransition("to") &&
			types.HasRole(actor, from.Roles.TransitionOut) &&
			types.HasRole(actor, to.Roles.TransitionIn)
		if got := statemachine.CanTransition(actor, from, to); got != expect {
			t.Fatalf("CanTransition(%v) = %v, want %v", actor, got, expect)
		}
	})
}
