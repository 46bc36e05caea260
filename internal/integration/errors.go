package integration

import (
	"errors"

	"github.com/mautops/record-gin/pkg/types"
	"gorm.io/gorm"
)

// translate 将持久层错误映射为领域错误
func translate(err error, format string, args ...interface{}) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return types.NotFoundf(format, args...)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return types.Conflictf(format, args...)
	default:
		return err
	}
}
