package numbering_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mautops/record-gin/pkg/numbering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// lockedCounter 测试用分配器
type lockedCounter struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func (c *lockedCounter) Next(_ context.Context, templateID, period string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string]int64{}
	}
	key := templateID + "/" + period
	c.values[key]++
	return c.values[key], nil
}

// TestFormat 测试编码格式
func TestFormat(t *testing.T) {
	assert.Equal(t, "AUD-2024-0001", numbering.Format("AUD", "2024", 1, 4))
	assert.Equal(t, "AUD-0042", numbering.Format("AUD", "", 42, 0))
	assert.Equal(t, "NC-202403-000007", numbering.Format("NC", "202403", 7, 6))
	assert.Equal(t, "NC-12345", numbering.Format("NC", "", 12345, 3))
}

// TestPeriodKey 测试周期键
func TestPeriodKey(t *testing.T) {
	ts := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "", numbering.PeriodKey(numbering.PeriodNone, ts))
	assert.Equal(t, "2024", numbering.PeriodKey(numbering.PeriodYearly, ts))
	assert.Equal(t, "202403", numbering.PeriodKey(numbering.PeriodMonthly, ts))
}

// TestConfig_Validate 测试编号配置校验
func TestConfig_Validate(t *testing.T) {
	assert.Empty(t, numbering.Config{Prefix: "AUD", Period: numbering.PeriodYearly}.Validate("config.numbering"))

	vs := numbering.Config{Prefix: "A-B", Period: "weekly", Padding: 99}.Validate("config.numbering")
	require.Len(t, vs, 3)
	assert.Equal(t, "config.numbering.period", vs[0].Field)
	assert.Equal(t, "config.numbering.padding", vs[1].Field)
	assert.Equal(t, "config.numbering.prefix", vs[2].Field)
}

// TestService_Allocate 测试编号分配与周期重置
func TestService_Allocate(t *testing.T) {
	now := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	svc := numbering.NewService(&lockedCounter{}, 0).WithClock(func() time.Time { return now })
	cfg := numbering.Config{Period: numbering.PeriodYearly}

	code, err := svc.Allocate(context.Background(), "tpl-1", cfg, "AUD")
	require.NoError(t, err)
	assert.Equal(t, "AUD-2024-0001", code)

	code, err = svc.Allocate(context.Background(), "tpl-1", cfg, "AUD")
	require.NoError(t, err)
	assert.Equal(t, "AUD-2024-0002", code)

	now = now.Add(2 * time.Hour)
	code, err = svc.Allocate(context.Background(), "tpl-1", cfg, "AUD")
	require.NoError(t, err)
	assert.Equal(t, "AUD-2025-0001", code)

	// 配置前缀优先于模板编码
	code, err = svc.Allocate(context.Background(), "tpl-2", numbering.Config{Prefix: "NC", Padding: 3}, "AUD")
	require.NoError(t, err)
	assert.Equal(t, "NC-001", code)
}

// TestService_AllocateError 测试分配失败时透传错误
func TestService_AllocateError(t *testing.T) {
	boom := errors.New("db down")
	svc := numbering.NewService(&lockedCounter{err: boom}, 4)
	_, err := svc.Allocate(context.Background(), "tpl-1", numbering.Config{}, "AUD")
	assert.True(t, errors.Is(err, boom))
}

// TestFormat_Property 编码可按分隔符拆回前缀、周期和序号
func TestFormat_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.StringMatching(`[A-Z]{1,6}`).Draw(t, "prefix")
		period := rapid.SampledFrom([]string{"", "2024", "202402"}).Draw(t, "period")
		seq := rapid.Int64Range(1, 1_000_000).Draw(t, "seq")
		padding := rapid.IntRange(1, 8).Draw(t, "padding")

		code := numbering.Format(prefix, period, seq, padding)
		parts := strings.Split(code, "-")
		if parts[0] != prefix {
			t.Fatalf("prefix mismatch in %s", code)
		}
		last := parts[len(parts)-1]
		if len(last) < padding {
			t.Fatalf("sequence %s shorter than padding %d", last, padding)
		}
		parsed, err := strconv.ParseInt(last, 10, 64)
		if err != nil || parsed != seq {
			t.Fatalf("sequence mismatch in %s", code)
		}
		if period != "" && parts[1] != period {
			t.Fatalf("period mismatch in %s", code)
		}
	})
}
