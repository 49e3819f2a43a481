package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/source2social/internal/config"
	"github.com/source2social/internal/db"
	"github.com/source2social/internal/service"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testWebhookSecret = "hook-secret"
	testAdminUser     = "admin"
	testAdminPassword = "admin-pass"
	testGeneratedText = "Shipped a faster parser for large payloads"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// testEnv 把 API、内存数据库以及伪造的 AI / X 服务组装在一起。
type testEnv struct {
	api    *API
	db     *gorm.DB
	router *gin.Engine
	ai     *httptest.Server
	x      *httptest.Server

	tweets      atomic.Int32
	tweetStatus atomic.Int32
	aiStatus    atomic.Int32
	aiCalls     atomic.Int32
}

func newTestEnv(t *testing.T, mutate func(cfg *config.AppConfig)) *testEnv {
	t.Helper()

	env := &testEnv{}
	env.tweetStatus.Store(http.StatusCreated)
	env.aiStatus.Store(http.StatusOK)

	env.ai = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.aiCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if status := int(env.aiStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": testGeneratedText}}},
		})
	}))
	t.Cleanup(env.ai.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		status := int(env.tweetStatus.Load())
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusCreated {
			w.WriteHeader(status)
			w.Write([]byte(`{"title":"Service Unavailable"}`))
			return
		}
		n := env.tweets.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"data":{"id":"tweet-%d","text":"ok"}}`, n)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
			"expires_in":    7200,
			"scope":         "tweet.read tweet.write users.read offline.access",
		})
	})
	mux.HandleFunc("/2/users/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"2244994945","name":"Octo","username":"octocat"}}`))
	})
	env.x = httptest.NewServer(mux)
	t.Cleanup(env.x.Close)

	cfg := config.AppConfig{
		DatabasePath:  ":memory:",
		SessionSecret: "test-secret",
		Webhook: config.WebhookConfig{
			Secret:           testWebhookSecret,
			MinMessageLength: 10,
			SkipMerges:       true,
		},
		AI: config.AIConfig{
			Provider:      service.AIProviderOpenAI,
			OpenAIAPIKey:  "sk-test",
			OpenAIBaseURL: env.ai.URL,
			OpenAIModel:   "gpt-test",
			Tone:          "casual",
			Timeout:       2 * time.Second,
		},
		X: config.XConfig{
			ClientID:       "client",
			ClientSecret:   "secret",
			RedirectURL:    "http://localhost:8080/oauth/x/callback",
			AuthURL:        env.x.URL + "/authorize",
			TokenURL:       env.x.URL + "/token",
			APIBaseURL:     env.x.URL,
			CharLimit:      280,
			PublishTimeout: 2 * time.Second,
			RefreshTimeout: 2 * time.Second,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	dsn := fmt.Sprintf("file:handler-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	if err := db.EnsureUser(gdb, testAdminUser, testAdminPassword); err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}

	api, err := NewAPI(gdb, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to build api: %v", err)
	}

	env.api = api
	env.db = gdb
	env.router = newTestRouter(api, cookie.NewStore([]byte("test-secret")))
	return env
}

func newTestRouter(api *API, store sessions.Store) *gin.Engine {
	r := gin.New()
	r.Use(sessions.Sessions("source2social_session", store))

	r.GET("/healthz", api.HealthCheck)
	r.POST("/webhook/github", api.GitHubWebhook)
	r.POST("/admin/login", api.Login)
	r.POST("/admin/logout", api.Logout)
	r.GET("/oauth/x/start", AuthRequired(), api.StartXAuthorization)
	r.GET("/oauth/x/callback", AuthRequired(), api.XAuthorizationCallback)

	group := r.Group("/api", AuthRequired())
	group.GET("/posts", api.ListPosts)
	group.GET("/posts/:id", api.GetPost)
	group.PUT("/posts/:id", api.EditPost)
	group.POST("/posts/:id/ready", api.MarkPostReady)
	group.POST("/posts/:id/publish", api.PublishPost)
	group.POST("/posts/:id/regenerate", api.RegeneratePost)
	group.POST("/posts/:id/requeue", api.RequeuePost)
	group.DELETE("/posts/:id", api.DeletePost)
	group.GET("/accounts", api.ListAccounts)
	group.DELETE("/accounts/:platform/:user_id", api.DisconnectAccount)
	return r
}

// do 发送请求并携带 cookies，返回响应记录。
func (e *testEnv) do(t *testing.T, method, target string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) []*http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/admin/login", map[string]string{
		"username": testAdminUser,
		"password": testAdminPassword,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected login to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected session cookie after login")
	}
	return cookies
}

func (e *testEnv) createPost(t *testing.T, sha string) *db.Post {
	t.Helper()
	post, _, err := e.api.posts.Create(context.Background(), service.PostInput{
		Repository:    "octo/repo",
		CommitSHA:     sha,
		CommitURL:     "https://github.com/octo/repo/commit/" + sha,
		Author:        "octocat",
		CommitMessage: "feat: add streaming parser",
		Category:      service.CategoryFeature,
		Content:       "✨ streaming parser",
		Platform:      service.PlatformX,
	})
	if err != nil {
		t.Fatalf("failed to create post: %v", err)
	}
	return post
}

func (e *testEnv) connectAccount(t *testing.T) {
	t.Helper()
	_, err := e.api.vault.Store(context.Background(), service.PlatformX, service.Credential{
		UserID:       "42",
		Username:     "octocat",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		Expiry:       time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to store credential: %v", err)
	}
}

type postResponse struct {
	Post             db.Post `json:"post"`
	EffectiveContent string  `json:"effectiveContent"`
	Error            string  `json:"error"`
	ErrorClass       string  `json:"errorClass"`
}

func decodePost(t *testing.T, rec *httptest.ResponseRecorder) postResponse {
	t.Helper()
	var resp postResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestPostEndpointsRequireLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/posts", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
}

func TestListPostsFiltersByStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)

	first := env.createPost(t, "aaa111")
	env.createPost(t, "bbb222")
	if _, err := env.api.posts.MarkReady(context.Background(), first.ID); err != nil {
		t.Fatalf("mark ready: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/posts?status=ready", nil, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Posts        []db.Post        `json:"posts"`
		Total        int64            `json:"total"`
		StatusCounts map[string]int64 `json:"statusCounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if resp.Total != 1 || len(resp.Posts) != 1 || resp.Posts[0].ID != first.ID {
		t.Fatalf("expected only the ready post, got %+v", resp)
	}
	if resp.StatusCounts[db.PostStatusDraft] != 1 || resp.StatusCounts[db.PostStatusReady] != 1 {
		t.Fatalf("expected per-status counters, got %v", resp.StatusCounts)
	}
}

func TestGetPostNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/posts/999", nil, cookies)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/posts/abc", nil, cookies)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", rec.Code)
	}
}

func TestEditPostKeepsGeneratedContent(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	post := env.createPost(t, "ccc333")

	rec := env.do(t, http.MethodPut, fmt.Sprintf("/api/posts/%d", post.ID), map[string]string{"content": "hand written"}, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/posts/%d", post.ID), nil, cookies)
	resp := decodePost(t, rec)
	if resp.EffectiveContent != "hand written" {
		t.Fatalf("expected edited content to win, got %q", resp.EffectiveContent)
	}
	if resp.Post.GeneratedContent != "✨ streaming parser" {
		t.Fatalf("expected generated content to be preserved, got %q", resp.Post.GeneratedContent)
	}
}

func TestEditPostRejectsOverLimitContent(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	post := env.createPost(t, "ddd444")

	tooLong := strings.Repeat("é", 281)
	rec := env.do(t, http.MethodPut, fmt.Sprintf("/api/posts/%d", post.ID), map[string]string{"content": tooLong}, cookies)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-limit content, got %d", rec.Code)
	}

	exact := strings.Repeat("é", 280)
	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/posts/%d", post.ID), map[string]string{"content": exact}, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 280 runes to be accepted, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPublishPostEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	env.connectAccount(t)
	post := env.createPost(t, "eee555")

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/publish", post.ID), nil, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodePost(t, rec)
	if resp.Post.Status != db.PostStatusPublished || resp.Post.ExternalPostID == nil || *resp.Post.ExternalPostID != "tweet-1" {
		t.Fatalf("expected published post with external id, got %+v", resp.Post)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/publish", post.ID), nil, cookies)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when publishing twice, got %d", rec.Code)
	}
	if env.tweets.Load() != 1 {
		t.Fatalf("expected a single platform call, got %d", env.tweets.Load())
	}

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/posts/%d", post.ID), map[string]string{"content": "late edit"}, cookies)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when editing a published post, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/posts/%d", post.ID), nil, cookies)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when deleting a published post, got %d", rec.Code)
	}
}

func TestPublishPostPlatformFailureThenRequeue(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	env.connectAccount(t)
	post := env.createPost(t, "fff666")
	env.tweetStatus.Store(http.StatusServiceUnavailable)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/publish", post.ID), nil, cookies)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodePost(t, rec)
	if resp.Post.Status != db.PostStatusFailed || resp.ErrorClass != db.ErrorClassPublish {
		t.Fatalf("expected failed post with publish class, got %+v", resp)
	}
	if !strings.Contains(resp.Post.ErrorMessage, "Service Unavailable") {
		t.Fatalf("expected platform body in error message, got %q", resp.Post.ErrorMessage)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/publish", post.ID), nil, cookies)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected failed post to require requeue, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/requeue", post.ID), nil, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected requeue to succeed, got %d", rec.Code)
	}
	if requeued := decodePost(t, rec); requeued.Post.Status != db.PostStatusDraft || requeued.Post.ErrorMessage != "" {
		t.Fatalf("expected clean draft after requeue, got %+v", requeued.Post)
	}

	env.tweetStatus.Store(http.StatusCreated)
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/publish", post.ID), nil, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected retry to publish, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegeneratePost(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	post := env.createPost(t, "rrr111")
	if _, err := env.api.posts.Edit(context.Background(), post.ID, "hand written"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/regenerate", post.ID), nil, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodePost(t, rec)
	if resp.Post.Status != db.PostStatusDraft || !strings.Contains(resp.Post.GeneratedContent, testGeneratedText) {
		t.Fatalf("expected regenerated draft, got %+v", resp.Post)
	}
	if resp.Post.EditedContent != nil {
		t.Fatalf("regeneration should drop the manual edit, got %q", *resp.Post.EditedContent)
	}
	if env.aiCalls.Load() != 1 {
		t.Fatalf("expected one generation call, got %d", env.aiCalls.Load())
	}
}

func TestRegeneratePostGenerationFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	post := env.createPost(t, "rrr222")
	env.aiStatus.Store(http.StatusServiceUnavailable)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/regenerate", post.ID), nil, cookies)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodePost(t, rec)
	if resp.ErrorClass != db.ErrorClassGeneration || resp.Post.Status != db.PostStatusFailed || resp.Post.ErrorClass != db.ErrorClassGeneration {
		t.Fatalf("expected failed post with generation class, got %+v", resp)
	}
	if env.aiCalls.Load() != 1 {
		t.Fatalf("regeneration must not retry, got %d calls", env.aiCalls.Load())
	}

	env.aiStatus.Store(http.StatusOK)
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/regenerate", post.ID), nil, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected generation failure to be regenerable, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegeneratePostRejectsReadyAndPublished(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	ready := env.createPost(t, "rrr333")
	if _, err := env.api.posts.MarkReady(context.Background(), ready.ID); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	published := env.createPost(t, "rrr444")
	if _, err := env.api.posts.MarkPublished(context.Background(), published.ID, "tweet-1", time.Now()); err != nil {
		t.Fatalf("mark published: %v", err)
	}

	for _, id := range []uint{ready.ID, published.ID} {
		rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/regenerate", id), nil, cookies)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409 for post %d, got %d: %s", id, rec.Code, rec.Body.String())
		}
	}
	rec := env.do(t, http.MethodPost, "/api/posts/9999/regenerate", nil, cookies)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if env.aiCalls.Load() != 0 {
		t.Fatalf("rejected posts must not reach the model, got %d calls", env.aiCalls.Load())
	}
}

func TestPublishPostWithoutAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	post := env.createPost(t, "ggg777")

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/publish", post.ID), nil, cookies)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodePost(t, rec); resp.ErrorClass != db.ErrorClassAuth {
		t.Fatalf("expected auth error class, got %+v", resp)
	}
	if env.tweets.Load() != 0 {
		t.Fatal("expected no platform call without credentials")
	}
}

func TestMarkReadyAndDeletePost(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	post := env.createPost(t, "hhh888")

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/ready", post.ID), nil, cookies)
	if rec.Code != http.StatusOK || decodePost(t, rec).Post.Status != db.PostStatusReady {
		t.Fatalf("expected ready post, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/posts/%d", post.ID), nil, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected delete to succeed, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/posts/%d", post.ID), nil, cookies)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected deleted post to be gone, got %d", rec.Code)
	}
}
