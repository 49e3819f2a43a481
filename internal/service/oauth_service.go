package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/source2social/internal/config"
	"golang.org/x/oauth2"
)

// X OAuth 2.0 所需权限；offline.access 用于获得 refresh token。
var xScopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}

// XAccount 是授权账号的基本信息。
type XAccount struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// OAuthService 负责 X 的授权码（PKCE）流程与令牌刷新。
type OAuthService struct {
	config     *oauth2.Config
	apiBaseURL string
	http       *http.Client
}

// NewOAuthService 根据 X 应用配置构造 OAuthService。
func NewOAuthService(cfg config.XConfig) *OAuthService {
	authStyle := oauth2.AuthStyleInHeader
	if cfg.ClientSecret == "" {
		authStyle = oauth2.AuthStyleInParams
	}
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	apiBase := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = defaultXAPIBaseURL
	}
	return &OAuthService{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: authStyle,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      xScopes,
		},
		apiBaseURL: apiBase,
		http:       &http.Client{Timeout: timeout},
	}
}

// Configured 表示是否配置了 X 应用凭据。
func (s *OAuthService) Configured() bool {
	return s.config.ClientID != "" && s.config.Endpoint.AuthURL != "" && s.config.Endpoint.TokenURL != ""
}

// NewVerifier 生成 PKCE code verifier。
func (s *OAuthService) NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthCodeURL 返回授权跳转地址，verifier 以 S256 challenge 形式携带。
func (s *OAuthService) AuthCodeURL(state, verifier string) string {
	return s.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Connect 用授权码换取令牌并查询授权账号，返回可直接存入 TokenVault 的凭据。
func (s *OAuthService) Connect(ctx context.Context, code, verifier string) (Credential, error) {
	token, err := s.config.Exchange(s.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Credential{}, fmt.Errorf("x token exchange: %w", err)
	}

	account, err := s.FetchAccount(ctx, token.AccessToken)
	if err != nil {
		return Credential{}, fmt.Errorf("fetch x account: %w", err)
	}

	scope, _ := token.Extra("scope").(string)
	return Credential{
		UserID:       account.ID,
		Username:     account.Username,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		Scope:        scope,
	}, nil
}

// Refresh 实现 TokenRefresher。
func (s *OAuthService) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	// 传入已过期的令牌，强制 TokenSource 走刷新流程
	stale := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	return s.config.TokenSource(s.clientContext(ctx), stale).Token()
}

// FetchAccount 调用 GET /2/users/me 查询令牌所属账号。
func (s *OAuthService) FetchAccount(ctx context.Context, accessToken string) (XAccount, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBaseURL+"/2/users/me", nil)
	if err != nil {
		return XAccount{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return XAccount{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return XAccount{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return XAccount{}, fmt.Errorf("users/me returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Data XAccount `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return XAccount{}, fmt.Errorf("decode users/me: %w", err)
	}
	if payload.Data.ID == "" {
		return XAccount{}, fmt.Errorf("users/me returned no account id")
	}
	return payload.Data, nil
}

func (s *OAuthService) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.http)
}
