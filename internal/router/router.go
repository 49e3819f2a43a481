package router

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/source2social/internal/handler"
)

const sessionName = "source2social_session"

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(sessionSecret string, api *handler.API) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		HttpOnly: true,
		// OAuth 回调是跨站的顶层跳转，Lax 仍会携带会话 cookie
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	r.GET("/healthz", api.HealthCheck)

	r.POST("/webhook/github", api.GitHubWebhook)

	admin := r.Group("/admin")
	{
		admin.POST("/login", api.Login)
		admin.POST("/logout", api.Logout)
	}

	oauth := r.Group("/oauth/x")
	{
		oauth.GET("/start", handler.AuthRequired(), api.StartXAuthorization)
		oauth.GET("/callback", handler.AuthRequired(), api.XAuthorizationCallback)
	}

	apiGroup := r.Group("/api")
	apiGroup.Use(handler.AuthRequired())
	{
		apiGroup.GET("/posts", api.ListPosts)
		apiGroup.GET("/posts/:id", api.GetPost)
		apiGroup.PUT("/posts/:id", api.EditPost)
		apiGroup.POST("/posts/:id/ready", api.MarkPostReady)
		apiGroup.POST("/posts/:id/publish", api.PublishPost)
		apiGroup.POST("/posts/:id/regenerate", api.RegeneratePost)
		apiGroup.POST("/posts/:id/requeue", api.RequeuePost)
		apiGroup.DELETE("/posts/:id", api.DeletePost)

		apiGroup.GET("/accounts", api.ListAccounts)
		apiGroup.DELETE("/accounts/:platform/:user_id", api.DisconnectAccount)
	}

	return r
}
