package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/sirupsen/logrus"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorHandlerMiddleware 错误处理中间件
// 处理器通过 c.Error 上报错误,这里统一转换为响应
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			HandleError(c, c.Errors.Last().Err)
		}
	}
}

// HandleError 领域错误映射为 HTTP 状态码
func HandleError(c *gin.Context, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
		return
	}

	status, message := StatusOf(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		Error(c, status, message, "")
		return
	}

	c.JSON(status, ErrorResponse{
		Code:       status,
		Message:    message,
		Detail:     err.Error(),
		Violations: types.ViolationsOf(err),
	})
}

// StatusOf 领域错误对应的状态码与消息
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusUnprocessableEntity, "validation failed"
	case errors.Is(err, types.ErrPermissionDenied):
		return http.StatusForbidden, "permission denied"
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, types.ErrInvalidTransition):
		return http.StatusBadRequest, "invalid transition"
	case errors.Is(err, types.ErrLockedRecord):
		return http.StatusLocked, "record is locked"
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}

// BadRequest 请求格式错误
func BadRequest(c *gin.Context, err error) {
	Error(c, http.StatusBadRequest, "invalid request", err.Error())
}
