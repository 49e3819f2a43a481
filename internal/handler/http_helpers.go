package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/source2social/internal/db"
	"github.com/source2social/internal/service"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	raw := c.Param(key)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(id), nil
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// respondServiceError 把业务错误映射为 HTTP 状态码，未知错误一律 500。
func (a *API) respondServiceError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var publishErr *service.PublishError
	var generationErr *service.GenerationError

	switch {
	case errors.Is(err, service.ErrPostNotFound), errors.Is(err, service.ErrCredentialNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrPostPublished), errors.Is(err, service.ErrInvalidTransition):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrContentInvalid), errors.As(err, &validationErr):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSignatureInvalid):
		respondError(c, http.StatusUnauthorized, err.Error())
	case errors.As(err, &publishErr):
		c.JSON(publishErrorStatus(c, publishErr), gin.H{"error": publishErr.Error(), "errorClass": publishErr.Class})
	case errors.As(err, &generationErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": generationErr.Error(), "errorClass": db.ErrorClassGeneration})
	default:
		a.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "internal server error")
	}
}

// publishErrorStatus 限流返回 429 并透传 Retry-After，其余平台错误返回 502。
func publishErrorStatus(c *gin.Context, publishErr *service.PublishError) int {
	if publishErr.Class != db.ErrorClassRateLimited {
		return http.StatusBadGateway
	}
	if publishErr.RetryAfter != nil {
		seconds := int(time.Until(*publishErr.RetryAfter).Seconds())
		c.Header("Retry-After", strconv.Itoa(max(seconds, 0)))
	}
	return http.StatusTooManyRequests
}
