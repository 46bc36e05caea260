package utils

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mautops/record-gin/pkg/types"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// 分页限制
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// ValidateID 验证路径中的资源 ID
func ValidateID(name, id string) error {
	switch {
	case id == "":
		return types.NewValidationError([]types.Violation{{Field: name, Rule: "required", Message: "id cannot be empty"}})
	case len(id) > 64:
		return types.NewValidationError([]types.Violation{{Field: name, Rule: "max_length", Message: "id exceeds maximum length"}})
	case !idPattern.MatchString(id):
		return types.NewValidationError([]types.Violation{{Field: name, Rule: "pattern", Message: "id contains invalid characters"}})
	}
	return nil
}

// NormalizePage 规范分页参数,返回 page、pageSize 与 offset
func NormalizePage(page, pageSize int) (int, int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize, (page - 1) * pageSize
}

// TotalPages 计算总页数
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	pages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		pages++
	}
	return pages
}

// CleanText 去除首尾空白与控制字符(保留换行和制表符)
func CleanText(input string) string {
	var result strings.Builder
	for _, r := range strings.TrimSpace(input) {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}
