package numbering

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mautops/record-gin/pkg/types"
)

// Period 编号的周期范围
type Period string

const (
	PeriodNone    Period = ""        // 不分周期,全局递增
	PeriodYearly  Period = "yearly"  // 每年重置
	PeriodMonthly Period = "monthly" // 每月重置
)

// DefaultPadding 序号默认补零宽度
const DefaultPadding = 4

const maxPadding = 12

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// Config 模板的编号配置
type Config struct {
	Prefix  string `json:"prefix,omitempty" yaml:"prefix,omitempty"`   // 为空时使用模板编码
	Period  Period `json:"period,omitempty" yaml:"period,omitempty"`   // 空/yearly/monthly
	Padding int    `json:"padding,omitempty" yaml:"padding,omitempty"` // 为 0 时使用默认宽度
}

// Validate 校验编号配置
func (c Config) Validate(path string) []types.Violation {
	var vs []types.Violation
	switch c.Period {
	case PeriodNone, PeriodYearly, PeriodMonthly:
	default:
		vs = append(vs, types.Violation{Field: path + ".period", Rule: "options", Message: fmt.Sprintf("unknown numbering period %q", c.Period)})
	}
	if c.Padding < 0 || c.Padding > maxPadding {
		vs = append(vs, types.Violation{Field: path + ".padding", Rule: "max", Message: fmt.Sprintf("padding must be between 0 and %d", maxPadding)})
	}
	if !prefixPattern.MatchString(c.Prefix) {
		vs = append(vs, types.Violation{Field: path + ".prefix", Rule: "pattern", Message: "prefix may only contain letters, digits and underscores"})
	}
	return vs
}

// PeriodKey 返回时间所在周期的键,PeriodNone 返回空串
func PeriodKey(p Period, t time.Time) string {
	switch p {
	case PeriodYearly:
		return t.Format("2006")
	case PeriodMonthly:
		return t.Format("200601")
	}
	return ""
}

// Format 生成 {prefix}-{period?}-{sequence} 形式的编码
func Format(prefix, period string, seq int64, padding int) string {
	if padding <= 0 {
		padding = DefaultPadding
	}
	parts := make([]string, 0, 3)
	parts = append(parts, prefix)
	if period != "" {
		parts = append(parts, period)
	}
	parts = append(parts, fmt.Sprintf("%0*d", padding, seq))
	return strings.Join(parts, "-")
}

// Allocator 原子计数器,按 (templateID, period) 递增并返回新值
// 实现必须由持久层的原子操作保证,不能使用进程内计数器
type Allocator interface {
	Next(ctx context.Context, templateID, period string) (int64, error)
}

// Service 编号服务
type Service struct {
	allocator Allocator
	padding   int
	now       func() time.Time
}

// NewService 创建编号服务
func NewService(allocator Allocator, defaultPadding int) *Service {
	if defaultPadding <= 0 {
		defaultPadding = DefaultPadding
	}
	return &Service{allocator: allocator, padding: defaultPadding, now: time.Now}
}

// WithClock 替换时钟,用于测试周期边界
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Allocate 为模板分配下一个编码
// fallbackPrefix 通常是模板编码,在配置未指定前缀时使用
func (s *Service) Allocate(ctx context.Context, templateID string, cfg Config, fallbackPrefix string) (string, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = fallbackPrefix
	}
	padding := cfg.Padding
	if padding <= 0 {
		padding = s.padding
	}
	period := PeriodKey(cfg.Period, s.now())

	seq, err := s.allocator.Next(ctx, templateID, period)
	if err != nil {
		return "", fmt.Errorf("failed to allocate sequence for template %s: %w", templateID, err)
	}
	return Format(prefix, period, seq, padding), nil
}
