package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/source2social/internal/db"
)

const (
	// PlatformX 是唯一支持的发布平台。
	PlatformX = "x"

	defaultXAPIBaseURL    = "https://api.twitter.com"
	defaultPublishTimeout = 15 * time.Second
	maxPlatformErrorBytes = 64 << 10
)

// XClient 调用 X API v2 发布帖子。
type XClient struct {
	baseURL string
	http    httpDoer
	now     func() time.Time
}

// NewXClient 构造 XClient，timeout 约束单次发布请求。
func NewXClient(baseURL string, timeout time.Duration) *XClient {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultXAPIBaseURL
	}
	return &XClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (c *XClient) SetHTTPClient(client httpDoer) {
	if client != nil {
		c.http = client
	}
}

type createTweetRequest struct {
	Text string `json:"text"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// CreatePost 发布一条帖子并返回平台分配的 ID。
// 非 2xx 响应与传输错误都以 *PublishError 返回，Class 按状态码划分。
func (c *XClient) CreatePost(ctx context.Context, accessToken, text string) (string, error) {
	body, err := json.Marshal(createTweetRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("encode tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create tweet request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &PublishError{Class: db.ErrorClassPublish, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxPlatformErrorBytes))
	if err != nil {
		return "", &PublishError{Class: db.ErrorClassPublish, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		publishErr := &PublishError{
			Class:      classifyPlatformStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			publishErr.RetryAfter = parseRetryAfter(resp.Header, c.now())
		}
		return "", publishErr
	}

	var created createTweetResponse
	if err := json.Unmarshal(respBody, &created); err != nil || created.Data.ID == "" {
		return "", &PublishError{
			Class:      db.ErrorClassPublish,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("response carries no post id"),
		}
	}
	return created.Data.ID, nil
}

func classifyPlatformStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return db.ErrorClassAuth
	case http.StatusTooManyRequests:
		return db.ErrorClassRateLimited
	default:
		return db.ErrorClassPublish
	}
}

// parseRetryAfter 先读 Retry-After（秒数或 HTTP 日期），再回退到 x-rate-limit-reset（Unix 秒）。
func parseRetryAfter(header http.Header, now time.Time) *time.Time {
	if retryStr := strings.TrimSpace(header.Get("Retry-After")); retryStr != "" {
		if seconds, err := strconv.Atoi(retryStr); err == nil && seconds >= 0 {
			at := now.Add(time.Duration(seconds) * time.Second).UTC()
			return &at
		}
		if at, err := http.ParseTime(retryStr); err == nil {
			at = at.UTC()
			return &at
		}
	}
	if resetStr := strings.TrimSpace(header.Get("X-Rate-Limit-Reset")); resetStr != "" {
		if resetUnix, err := strconv.ParseInt(resetStr, 10, 64); err == nil && resetUnix > 0 {
			at := time.Unix(resetUnix, 0).UTC()
			return &at
		}
	}
	return nil
}
