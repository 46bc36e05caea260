package utils_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/mautops/record-gin/internal/utils"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateID 测试资源 ID 校验
func TestValidateID(t *testing.T) {
	assert.NoError(t, utils.ValidateID("id", "3f2a-b_9"))

	for _, id := range []string{"", strings.Repeat("a", 65), "a b", "x;drop"} {
		err := utils.ValidateID("id", id)
		require.Error(t, err, id)
		assert.True(t, errors.Is(err, types.ErrValidation))
		assert.Equal(t, "id", types.ViolationsOf(err)[0].Field)
	}
}

// TestNormalizePage 测试分页参数规范化
func TestNormalizePage(t *testing.T) {
	page, size, offset := utils.NormalizePage(0, 0)
	assert.Equal(t, []int{1, utils.DefaultPageSize, 0}, []int{page, size, offset})

	page, size, offset = utils.NormalizePage(3, 1000)
	assert.Equal(t, []int{3, utils.MaxPageSize, 2 * utils.MaxPageSize}, []int{page, size, offset})
}

// TestTotalPages 测试总页数计算
func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, utils.TotalPages(10, 0))
	assert.Equal(t, 0, utils.TotalPages(0, 20))
	assert.Equal(t, 1, utils.TotalPages(20, 20))
	assert.Equal(t, 2, utils.TotalPages(21, 20))
}

// TestCleanText 测试控制字符清理
func TestCleanText(t *testing.T) {
	assert.Equal(t, "line1\nline2\tok", utils.CleanText("  line1\nline2\tok\x00\x07 "))
}

// TestNormalizeSort 测试排序参数白名单
func TestNormalizeSort(t *testing.T) {
	field, order, err := utils.NormalizeSort("", "", utils.RecordSortFields)
	require.NoError(t, err)
	assert.Equal(t, "created_at", field)
	assert.Equal(t, "DESC", order)

	field, order, err = utils.NormalizeSort("code", "asc", utils.RecordSortFields)
	require.NoError(t, err)
	assert.Equal(t, "code", field)
	assert.Equal(t, "ASC", order)

	_, _, err = utils.NormalizeSort("name; DROP TABLE records", "asc", utils.RecordSortFields)
	assert.Error(t, err)
	_, _, err = utils.NormalizeSort("name", "asc", utils.RecordSortFields)
	assert.Error(t, err)
	_, _, err = utils.NormalizeSort("code", "sideways", utils.RecordSortFields)
	assert.Error(t, err)
}
