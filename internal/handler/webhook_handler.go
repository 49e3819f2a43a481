package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/source2social/internal/service"
)

// maxWebhookBodySize 对应 GitHub push 事件约 25 MB 的上限。
const maxWebhookBodySize = 32 << 20

// GitHubWebhook 接收 GitHub webhook：先校验签名，再只处理 push 事件。
func (a *API) GitHubWebhook(c *gin.Context) {
	deliveryID := c.GetHeader("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	logger := a.logger.With("delivery_id", deliveryID)

	// 签名基于原始字节计算，必须在解析前读取完整 body
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize+1))
	if err != nil {
		logger.Error("webhook: failed to read body", "error", err)
		respondError(c, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxWebhookBodySize {
		respondError(c, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if !a.verifier.Verify(body, c.GetHeader(service.SignatureHeader)) {
		logger.Warn("webhook: signature verification failed", "remote_addr", c.ClientIP())
		a.respondServiceError(c, service.ErrSignatureInvalid)
		return
	}

	eventType := c.GetHeader("X-GitHub-Event")
	switch eventType {
	case "":
		respondError(c, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	case "ping":
		c.JSON(http.StatusOK, gin.H{"message": "pong", "delivery": deliveryID})
		return
	case "push":
	default:
		logger.Debug("webhook: ignoring event", "event_type", eventType)
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "event": eventType, "delivery": deliveryID})
		return
	}

	event, err := service.ParsePushEvent(body)
	if err != nil {
		var validationErr *service.ValidationError
		if errors.As(err, &validationErr) {
			logger.Warn("webhook: malformed push payload", "field", validationErr.Field, "error", validationErr.Message)
		}
		a.respondServiceError(c, err)
		return
	}

	logger.Info("webhook received", "event_type", eventType, "repository", event.Repository.FullName, "commits", len(event.Commits))
	report := a.pipeline.HandlePush(c.Request.Context(), event)
	c.JSON(http.StatusOK, gin.H{"delivery": deliveryID, "report": report})
}
