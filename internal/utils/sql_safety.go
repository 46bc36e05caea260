package utils

import (
	"errors"
	"regexp"
	"strings"
)

var sortFieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// 可排序的列
var (
	TemplateSortFields = []string{"created_at", "updated_at", "name", "code"}
	RecordSortFields   = []string{"created_at", "updated_at", "code", "state_id", "due_at"}
)

// ValidateSortField 验证排序字段,只接受白名单内的列名,防止 SQL 注入
func ValidateSortField(field string, allowed []string) error {
	if field == "" {
		return errors.New("sort field cannot be empty")
	}
	if !sortFieldPattern.MatchString(field) {
		return errors.New("invalid sort field format")
	}
	for _, a := range allowed {
		if a == field {
			return nil
		}
	}
	return errors.New("sort field is not allowed: " + field)
}

// ValidateSortOrder 验证排序方向
func ValidateSortOrder(order string) error {
	upperOrder := strings.ToUpper(strings.TrimSpace(order))
	if upperOrder != "ASC" && upperOrder != "DESC" {
		return errors.New("sort order must be ASC or DESC")
	}
	return nil
}

// NormalizeSort 校验并规范排序参数,空值使用 created_at DESC
func NormalizeSort(field, order string, allowed []string) (string, string, error) {
	if field == "" {
		field = "created_at"
	}
	if order == "" {
		order = "desc"
	}
	if err := ValidateSortField(field, allowed); err != nil {
		return "", "", err
	}
	if err := ValidateSortOrder(order); err != nil {
		return "", "", err
	}
	return field, strings.ToUpper(strings.TrimSpace(order)), nil
}
