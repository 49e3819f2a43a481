package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListAccounts 返回已连接的平台账号，不包含令牌。
func (a *API) ListAccounts(c *gin.Context) {
	accounts, err := a.vault.List(c.Request.Context())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// DisconnectAccount 删除账号凭据。
func (a *API) DisconnectAccount(c *gin.Context) {
	if err := a.vault.Revoke(c.Request.Context(), c.Param("platform"), c.Param("user_id")); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account disconnected"})
}
