package field

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mautops/record-gin/pkg/types"
	"github.com/shopspring/decimal"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{5,19}$`)
)

// 日期值支持的格式
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// 评分字段未配置 max 规则时的上限
const defaultRatingMax = 5

// IsEmpty 判断值是否视为未填写
func IsEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}

// ValidateFieldValue 校验单个字段值,返回该字段的全部违规项(不短路)
func ValidateFieldValue(f *Field, value interface{}) []types.Violation {
	if f == nil || !f.Type.IsData() {
		return nil
	}

	var violations []types.Violation
	add := func(rule, msg string) {
		violations = append(violations, types.Violation{Field: f.Code, Rule: rule, Message: msg})
	}

	// 1. 必填校验,布尔类字段缺省为 false 视为已填写
	if IsEmpty(value) {
		if f.Required && !f.Type.IsBoolean() {
			add("required", fmt.Sprintf("%s is required", labelOf(f)))
		}
		return violations
	}

	// 2. 类型转换校验
	var (
		text      string
		number    decimal.Decimal
		isNumeric bool
	)
	switch f.Type {
	case TypeText, TypeLongText, TypeUser:
		s, ok := value.(string)
		if !ok {
			add("type", "must be a string")
			return violations
		}
		text = s
	case TypeEmail:
		s, ok := value.(string)
		if !ok || !emailPattern.MatchString(s) {
			add("type", "must be a valid email address")
			return violations
		}
		text = s
	case TypePhone:
		s, ok := value.(string)
		if !ok || !phonePattern.MatchString(s) {
			add("type", "must be a valid phone number")
			return violations
		}
		text = s
	case TypeURL:
		s, ok := value.(string)
		if !ok || !isHTTPURL(s) {
			add("type", "must be a valid http(s) url")
			return violations
		}
		text = s
	case TypeNumber, TypeRating:
		d, err := ToDecimal(value)
		if err != nil {
			add("type", "must be a number")
			return violations
		}
		number, isNumeric = d, true
		if f.Type == TypeRating {
			if !d.Equal(d.Truncate(0)) {
				add("type", "rating must be a whole number")
			}
			if !hasRule(f, RuleMax) && d.GreaterThan(decimal.NewFromInt(defaultRatingMax)) {
				add("max", fmt.Sprintf("must be at most %d", defaultRatingMax))
			}
			if !hasRule(f, RuleMin) && d.LessThan(decimal.Zero) {
				add("min", "must be at least 0")
			}
		}
	case TypeDate:
		if _, err := ToTime(value); err != nil {
			add("type", "must be a date (YYYY-MM-DD or RFC3339)")
			return violations
		}
	case TypeBoolean, TypeToggle:
		if _, ok := value.(bool); !ok {
			add("type", "must be a boolean")
		}
		return violations
	case TypeSelect:
		s, ok := value.(string)
		if !ok {
			add("type", "must be a string option")
			return violations
		}
		if !hasOption(f, s) {
			add("options", fmt.Sprintf("%q is not an allowed option", s))
		}
		text = s
	case TypeFile, TypeImage:
		if ref := AttachmentRef(value); ref == "" {
			add("type", "must reference an uploaded file")
		}
		return violations
	}

	// 3. 规则校验
	for _, rule := range f.Rules {
		if msg, ok := checkRule(rule, text, number, isNumeric); !ok {
			if rule.Message != "" {
				msg = rule.Message
			}
			add(string(rule.Type), msg)
		}
	}

	return violations
}

// checkRule 检查单条规则,返回错误信息与是否通过
func checkRule(rule Rule, text string, number decimal.Decimal, isNumeric bool) (string, bool) {
	switch rule.Type {
	case RuleMinLength, RuleMaxLength:
		if isNumeric {
			return "", true
		}
		limit, err := strconv.Atoi(rule.Value)
		if err != nil {
			return fmt.Sprintf("invalid %s rule value %q", rule.Type, rule.Value), false
		}
		n := utf8.RuneCountInString(text)
		if rule.Type == RuleMinLength && n < limit {
			return fmt.Sprintf("must be at least %d characters", limit), false
		}
		if rule.Type == RuleMaxLength && n > limit {
			return fmt.Sprintf("must be at most %d characters", limit), false
		}
	case RuleMin, RuleMax:
		if !isNumeric {
			return "", true
		}
		limit, err := decimal.NewFromString(rule.Value)
		if err != nil {
			return fmt.Sprintf("invalid %s rule value %q", rule.Type, rule.Value), false
		}
		if rule.Type == RuleMin && number.LessThan(limit) {
			return fmt.Sprintf("must be at least %s", limit.String()), false
		}
		if rule.Type == RuleMax && number.GreaterThan(limit) {
			return fmt.Sprintf("must be at most %s", limit.String()), false
		}
	case RulePattern:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return fmt.Sprintf("invalid pattern %q", rule.Value), false
		}
		subject := text
		if isNumeric {
			subject = number.String()
		}
		if !re.MatchString(subject) {
			return fmt.Sprintf("must match pattern %s", rule.Value), false
		}
	}
	return "", true
}

// ValidateRecordAgainstSchema 对有效字段集逐一校验,并拒绝未声明的字段编码
// 这是持久化任何字段值之前唯一的校验入口
func ValidateRecordAgainstSchema(effective []*Field, values map[string]interface{}) []types.Violation {
	var violations []types.Violation
	idx := Index(effective)

	for _, f := range effective {
		if f == nil {
			continue
		}
		violations = append(violations, ValidateFieldValue(f, values[f.Code])...)
	}

	for code := range values {
		f, ok := idx[code]
		if !ok {
			violations = append(violations, types.Violation{Field: code, Rule: "unknown", Message: "field is not declared in this schema"})
			continue
		}
		if !f.Type.IsData() {
			violations = append(violations, types.Violation{Field: code, Rule: "type", Message: "separator fields do not hold values"})
		}
	}

	sortViolations(violations)
	return violations
}

// ToDecimal 将 JSON 数值、数字字符串等转换为 decimal
func ToDecimal(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, fmt.Errorf("%v is not a finite number", v)
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return decimal.Zero, fmt.Errorf("%v is not a finite number", v)
		}
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	}
	return decimal.Zero, fmt.Errorf("unsupported numeric value %T", value)
}

// ToTime 解析日期值
func ToTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date value %v", value)
}

// AttachmentRef 提取文件字段的存储引用,值可以是引用字符串或包含 ref 的对象
func AttachmentRef(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]interface{}:
		if ref, ok := v["ref"].(string); ok {
			return strings.TrimSpace(ref)
		}
	}
	return ""
}

func isHTTPURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func hasRule(f *Field, t RuleType) bool {
	for _, r := range f.Rules {
		if r.Type == t {
			return true
		}
	}
	return false
}

func hasOption(f *Field, value string) bool {
	for _, o := range f.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

func labelOf(f *Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Code
}
