package template

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/mautops/record-gin/pkg/field"
	"github.com/mautops/record-gin/pkg/statemachine"
	"github.com/mautops/record-gin/pkg/types"
)

var (
	codePattern      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)
	fieldCodePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
)

// Validate 校验完整模板定义,返回全部违规项
// 纯函数,不访问持久层,可用于提交前预检草稿
func Validate(t *Template) []types.Violation {
	if t == nil {
		return []types.Violation{{Field: "template", Rule: "required", Message: "template definition is required"}}
	}

	var vs []types.Violation
	add := func(path, rule, msg string) {
		vs = append(vs, types.Violation{Field: path, Rule: rule, Message: msg})
	}

	// 1. 基本信息
	if t.Code == "" {
		add("code", "required", "template code is required")
	} else if !codePattern.MatchString(t.Code) {
		add("code", "pattern", "code must start with a letter and contain only letters, digits, '-' or '_'")
	}
	if t.Name == "" {
		add("name", "required", "template name is required")
	}

	// 2. 状态图
	vs = append(vs, statemachine.ValidateGraph(t.States)...)

	// 3. 字段定义: 模板级编码唯一,状态级编码在状态内唯一且不能遮蔽模板级
	global := make(map[string]bool, len(t.Fields))
	vs = append(vs, validateFields("fields", t.Fields, global, nil)...)
	for i, s := range t.States {
		if s == nil {
			continue
		}
		vs = append(vs, validateFields(fmt.Sprintf("states[%d].fields", i), s.Fields, map[string]bool{}, global)...)
	}

	// 4. 行为配置
	vs = append(vs, t.Config.Numbering.Validate("config.numbering")...)
	if t.Config.MaxAttachmentSize < 0 {
		add("config.max_attachment_size", "min", "max_attachment_size must not be negative")
	}
	for i, w := range t.Config.Webhooks {
		u, err := url.ParseRequestURI(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add(fmt.Sprintf("config.webhooks[%d].url", i), "type", "webhook url must be an http(s) url")
		}
	}

	return vs
}

func validateFields(path string, fields []*field.Field, seen map[string]bool, shadowed map[string]bool) []types.Violation {
	var vs []types.Violation
	add := func(p, rule, msg string) {
		vs = append(vs, types.Violation{Field: p, Rule: rule, Message: msg})
	}

	for i, f := range fields {
		fp := fmt.Sprintf("%s[%d]", path, i)
		if f == nil {
			add(fp, "required", "field must not be null")
			continue
		}
		switch {
		case f.Code == "":
			add(fp+".code", "required", "field code is required")
		case !fieldCodePattern.MatchString(f.Code):
			add(fp+".code", "pattern", "field code must be an identifier")
		case seen[f.Code]:
			add(fp+".code", "duplicate", fmt.Sprintf("field code %q is declared twice", f.Code))
		case shadowed[f.Code]:
			add(fp+".code", "duplicate", fmt.Sprintf("field code %q is already declared at template level", f.Code))
		default:
			seen[f.Code] = true
		}
		if !f.Type.Valid() {
			add(fp+".type", "options", fmt.Sprintf("unknown field type %q", f.Type))
			continue
		}
		if f.Type == field.TypeSelect && len(f.Options) == 0 {
			add(fp+".options", "required", "select fields need at least one option")
		}
		for j, r := range f.Rules {
			if msg := checkRuleDefinition(r); msg != "" {
				add(fmt.Sprintf("%s.rules[%d]", fp, j), "rule", msg)
			}
		}
		if f.DefaultValue != nil && f.Type.IsData() {
			probe := f.Clone()
			probe.Required = false
			for _, v := range field.ValidateFieldValue(probe, f.DefaultValue) {
				add(fp+".default_value", v.Rule, v.Message)
			}
		}
	}
	return vs
}

func checkRuleDefinition(r field.Rule) string {
	switch r.Type {
	case field.RuleMinLength, field.RuleMaxLength:
		if n, err := strconv.Atoi(r.Value); err != nil || n < 0 {
			return fmt.Sprintf("%s needs a non-negative integer value", r.Type)
		}
	case field.RuleMin, field.RuleMax:
		if _, err := field.ToDecimal(r.Value); err != nil {
			return fmt.Sprintf("%s needs a numeric value", r.Type)
		}
	case field.RulePattern:
		if _, err := regexp.Compile(r.Value); err != nil {
			return fmt.Sprintf("invalid pattern: %v", err)
		}
	default:
		return fmt.Sprintf("unknown rule type %q", r.Type)
	}
	return ""
}

// ValidationError 将 Validate 结果包装为错误,无违规时返回 nil
func ValidationError(t *Template) error {
	return types.NewValidationError(Validate(t))
}
