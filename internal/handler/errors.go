package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contractsvc/internal/service/contract"
)

// statusFor maps engine error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch contract.KindOf(err) {
	case contract.KindNotFound:
		return http.StatusNotFound
	case contract.KindInvalid:
		return http.StatusBadRequest
	case contract.KindForbidden:
		return http.StatusForbidden
	case contract.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError 统一错误响应，INTERNAL 不向调用方暴露细节
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	msg := err.Error()
	var e *contract.Error
	if errors.As(err, &e) && e.Msg != "" {
		msg = e.Msg
	}
	c.JSON(status, gin.H{"error": msg, "kind": string(contract.KindOf(err))})
}

