package types

import (
	"errors"
	"fmt"
	"strings"
)

// 领域错误分类,调用方通过 errors.Is 判断
var (
	ErrValidation        = errors.New("validation failed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrLockedRecord      = errors.New("record is locked")
)

// Violation 单个字段(或结构)上的校验违规
type Violation struct {
	Field   string `json:"field" yaml:"field"`     // 字段编码或结构路径,例如 states[2].transitions
	Rule    string `json:"rule" yaml:"rule"`       // 触发的规则: required/type/min_length/...
	Message string `json:"message" yaml:"message"` // 可读错误信息
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// ValidationError 校验错误,包含全部违规项
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

// Unwrap 使 errors.Is(err, ErrValidation) 成立
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError 根据违规项创建校验错误,无违规时返回 nil
func NewValidationError(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// ViolationsOf 从错误链中提取违规项
func ViolationsOf(err error) []Violation {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Violations
	}
	return nil
}

// NotFoundf 构造 NotFound 错误
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// PermissionDeniedf 构造 PermissionDenied 错误
func PermissionDeniedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, fmt.Sprintf(format, args...))
}

// InvalidTransitionf 构造 InvalidTransition 错误
func InvalidTransitionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

// Conflictf 构造 Conflict 错误
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Lockedf 构造 LockedRecord 错误
func Lockedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrLockedRecord, fmt.Sprintf(format, args...))
}
