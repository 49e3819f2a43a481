package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/source2social/internal/config"
)

func newTestXServer(t *testing.T, verifier string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code") != "the-code" {
			t.Errorf("unexpected exchange request %v", r.Form)
		}
		if r.Form.Get("code_verifier") != verifier {
			t.Errorf("expected PKCE verifier to be sent")
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "client" || pass != "secret" {
			t.Errorf("expected client credentials in basic auth header")
		}
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
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"2244994945","name":"Octo","username":"octocat"}}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testXConfig(baseURL string) config.XConfig {
	return config.XConfig{
		ClientID:       "client",
		ClientSecret:   "secret",
		RedirectURL:    "http://localhost:8080/oauth/x/callback",
		AuthURL:        baseURL + "/authorize",
		TokenURL:       baseURL + "/token",
		APIBaseURL:     baseURL,
		CharLimit:      280,
		PublishTimeout: time.Second,
		RefreshTimeout: time.Second,
	}
}

func TestOAuthServiceAuthCodeURLUsesPKCE(t *testing.T) {
	svc := NewOAuthService(testXConfig("https://x.test"))
	verifier := svc.NewVerifier()

	raw := svc.AuthCodeURL("state-123", verifier)
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != "state-123" {
		t.Fatalf("expected state in auth url, got %s", raw)
	}
	if query.Get("code_challenge_method") != "S256" || query.Get("code_challenge") == "" {
		t.Fatalf("expected S256 challenge in auth url, got %s", raw)
	}
	if query.Get("code_challenge") == verifier {
		t.Fatalf("verifier must not be sent in the clear")
	}
	if !strings.Contains(query.Get("scope"), "offline.access") {
		t.Fatalf("expected offline.access scope, got %s", query.Get("scope"))
	}
}

func TestOAuthServiceConnect(t *testing.T) {
	verifier := "verifier-0123456789-0123456789-0123456789"
	server := newTestXServer(t, verifier)
	svc := NewOAuthService(testXConfig(server.URL))

	cred, err := svc.Connect(context.Background(), "the-code", verifier)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if cred.UserID != "2244994945" || cred.Username != "octocat" {
		t.Fatalf("unexpected account %+v", cred)
	}
	if cred.AccessToken != "access-1" || cred.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected tokens %+v", cred)
	}
	if cred.Expiry.Before(time.Now().Add(time.Hour)) {
		t.Fatalf("expected expiry derived from expires_in, got %v", cred.Expiry)
	}
	if !strings.Contains(cred.Scope, "tweet.write") {
		t.Fatalf("expected scope to be recorded, got %q", cred.Scope)
	}
}

func TestOAuthServiceFetchAccountRejectsBadToken(t *testing.T) {
	server := newTestXServer(t, "")
	svc := NewOAuthService(testXConfig(server.URL))

	if _, err := svc.FetchAccount(context.Background(), "wrong"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}
