package field

import (
	"sort"

	"github.com/mautops/record-gin/pkg/types"
)

// Effective 合并模板全局字段与状态字段,按表单顺序排列
func Effective(global []*Field, stateFields []*Field) []*Field {
	out := make([]*Field, 0, len(global)+len(stateFields))
	for _, f := range global {
		if f != nil {
			out = append(out, f)
		}
	}
	for _, f := range stateFields {
		if f != nil {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FormOrder < out[j].FormOrder
	})
	return out
}

// CardFields 返回卡片上展示的字段,按卡片顺序排列
func CardFields(fields []*Field) []*Field {
	out := make([]*Field, 0)
	for _, f := range fields {
		if f != nil && f.ShowInCard && f.Type.IsData() {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CardOrder < out[j].CardOrder
	})
	return out
}

// ApplyDefaults 为缺失的字段填充默认值,返回新的值映射
func ApplyDefaults(fields []*Field, values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, f := range fields {
		if f == nil || !f.Type.IsData() || f.DefaultValue == nil {
			continue
		}
		if _, ok := out[f.Code]; !ok {
			out[f.Code] = f.DefaultValue
		}
	}
	return out
}

// CheckEditable 检查调用者能否写入给定字段值
// 返回权限不足的字段编码与只读字段违规项
func CheckEditable(fields []*Field, supplied map[string]interface{}, roles []string, allowReadOnly bool) (denied []string, violations []types.Violation) {
	idx := Index(fields)
	for code := range supplied {
		f, ok := idx[code]
		if !ok {
			continue
		}
		if !types.Permits(roles, f.EditRoles) {
			denied = append(denied, code)
		}
		if f.ReadOnly && !allowReadOnly {
			violations = append(violations, types.Violation{Field: code, Rule: "read_only", Message: "field is read-only"})
		}
	}
	sort.Strings(denied)
	sortViolations(violations)
	return denied, violations
}

// FilterVisible 过滤掉调用者无权查看的字段值
// 未在字段集中声明的值原样保留
func FilterVisible(fields []*Field, values map[string]interface{}, roles []string) map[string]interface{} {
	idx := Index(fields)
	out := make(map[string]interface{}, len(values))
	for code, v := range values {
		if f, ok := idx[code]; ok && !types.Permits(roles, f.ViewRoles) {
			continue
		}
		out[code] = v
	}
	return out
}

func sortViolations(vs []types.Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		return vs[i].Field < vs[j].Field
	})
}
