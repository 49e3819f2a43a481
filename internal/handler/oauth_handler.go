package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/source2social/internal/service"
)

const (
	sessionOAuthStateKey    = "oauth_state"
	sessionOAuthVerifierKey = "oauth_verifier"
)

// StartXAuthorization 生成 state 与 PKCE verifier 存入会话，然后跳转到 X 授权页。
func (a *API) StartXAuthorization(c *gin.Context) {
	if !a.oauth.Configured() {
		respondError(c, http.StatusServiceUnavailable, "x oauth client is not configured")
		return
	}

	state := uuid.NewString()
	verifier := a.oauth.NewVerifier()

	session := sessions.Default(c)
	session.Set(sessionOAuthStateKey, state)
	session.Set(sessionOAuthVerifierKey, verifier)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to save session")
		return
	}

	c.Redirect(http.StatusFound, a.oauth.AuthCodeURL(state, verifier))
}

// XAuthorizationCallback 校验 state 后换取令牌并保存账号凭据；state 不匹配时不保存任何内容。
func (a *API) XAuthorizationCallback(c *gin.Context) {
	session := sessions.Default(c)
	expectedState, _ := session.Get(sessionOAuthStateKey).(string)
	verifier, _ := session.Get(sessionOAuthVerifierKey).(string)
	session.Delete(sessionOAuthStateKey)
	session.Delete(sessionOAuthVerifierKey)
	// state 必须先从会话中清除，保存失败时不继续换取令牌
	if err := session.Save(); err != nil {
		a.logger.Error("failed to clear oauth state", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to save session")
		return
	}

	if errMsg := c.Query("error"); errMsg != "" {
		respondError(c, http.StatusBadRequest, "authorization denied: "+errMsg)
		return
	}

	state := c.Query("state")
	if expectedState == "" || verifier == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(expectedState)) != 1 {
		a.logger.Warn("oauth callback state mismatch", "remote_addr", c.ClientIP())
		respondError(c, http.StatusBadRequest, "invalid oauth state")
		return
	}

	code := c.Query("code")
	if code == "" {
		respondError(c, http.StatusBadRequest, "missing authorization code")
		return
	}

	cred, err := a.oauth.Connect(c.Request.Context(), code, verifier)
	if err != nil {
		a.logger.Error("oauth exchange failed", "error", err)
		respondError(c, http.StatusBadGateway, "failed to complete authorization with x")
		return
	}

	stored, err := a.vault.Store(c.Request.Context(), service.PlatformX, cred)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	a.logger.Info("x account connected", "user_id", stored.UserID, "username", stored.Username)
	c.JSON(http.StatusOK, gin.H{"account": stored})
}
