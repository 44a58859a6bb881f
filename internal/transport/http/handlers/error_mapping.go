package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-engine/internal/core/domain"
)

var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:      http.StatusBadRequest,
	domain.KindUnauthenticated: http.StatusUnauthorized,
	domain.KindForbidden:       http.StatusForbidden,
	domain.KindNotFound:        http.StatusNotFound,
	domain.KindConflict:        http.StatusConflict,
	domain.KindInvalidState:    http.StatusConflict,
	domain.KindExpired:         http.StatusGone,
	domain.KindExhausted:       http.StatusTooManyRequests,
	domain.KindRateLimited:     http.StatusTooManyRequests,
}

// StatusForKind maps an error kind onto an HTTP status code.
func StatusForKind(kind domain.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError writes err as an ErrorResponse. Untyped errors become a generic
// 500 so internals never leak; the original error is kept on the context for
// the access log.
func RespondError(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}
	_ = c.Error(err)

	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		resp := NewErrorResponse(c, "internal error")
		resp.Code = string(domain.KindInternal)
		c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
		return
	}

	if seconds, ok := retryAfterSeconds(de.Details["retry_after"]); ok {
		c.Header("Retry-After", strconv.Itoa(seconds))
	}

	resp := NewErrorResponse(c, de.Message)
	resp.Code = de.Code
	resp.Details = de.Details
	c.AbortWithStatusJSON(StatusForKind(de.Kind), resp)
}

// retryAfterSeconds reads the retry_after detail, given in whole seconds.
func retryAfterSeconds(v any) (int, bool) {
	switch value := v.(type) {
	case int:
		return max(value, 0), true
	case int64:
		return max(int(value), 0), true
	case float64:
		return max(int(math.Ceil(value)), 0), true
	}
	return 0, false
}

func bindError(c *gin.Context, err error) {
	RespondError(c, domain.NewError(domain.KindValidation, "invalid_payload", fmt.Sprintf("invalid request payload: %v", err)))
}
