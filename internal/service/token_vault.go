package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/source2social/internal/db"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultRefreshTimeout = 10 * time.Second
	// tokenExpirySkew 提前视为过期，避免令牌在请求途中失效。
	tokenExpirySkew = 30 * time.Second
)

// Credential 是一次授权得到的令牌材料。
type Credential struct {
	UserID       string
	Username     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	Scope        string
}

// TokenRefresher 用 refresh token 换取新的访问令牌。
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenVault 持久化各平台账号的 OAuth 凭据，并保证同一账号同时只有一次刷新在进行。
type TokenVault struct {
	db        *gorm.DB
	refresher TokenRefresher
	flights   singleflight.Group
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewTokenVault 构造 TokenVault，refreshTimeout 约束每次令牌刷新请求。
func NewTokenVault(gdb *gorm.DB, refresher TokenRefresher, refreshTimeout time.Duration, logger *slog.Logger) *TokenVault {
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenVault{
		db:        gdb,
		refresher: refresher,
		timeout:   refreshTimeout,
		now:       time.Now,
		logger:    logger,
	}
}

// Store 保存或覆盖某个账号的凭据。
func (v *TokenVault) Store(ctx context.Context, platform string, cred Credential) (*db.OAuthCredential, error) {
	platform = strings.TrimSpace(platform)
	userID := strings.TrimSpace(cred.UserID)
	if platform == "" || userID == "" {
		return nil, &ValidationError{Field: "credential", Message: "platform and user id are required"}
	}
	if cred.AccessToken == "" {
		return nil, &ValidationError{Field: "credential.access_token", Message: "access token is required"}
	}

	record := db.OAuthCredential{
		Platform:     platform,
		UserID:       userID,
		Username:     cred.Username,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry.UTC(),
		Scope:        cred.Scope,
	}
	err := v.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "platform"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username", "access_token", "refresh_token", "token_type", "expiry", "scope", "updated_at",
			}),
		}).
		Create(&record).Error
	if err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	return v.load(ctx, platform, userID)
}

// GetValid 返回仍然有效的凭据，必要时先刷新。
// 没有 refresh token 或刷新失败时返回 ErrAuthRequired。
func (v *TokenVault) GetValid(ctx context.Context, platform, userID string) (*db.OAuthCredential, error) {
	cred, err := v.load(ctx, platform, userID)
	if err != nil {
		return nil, err
	}
	if cred.ValidAt(v.now().Add(tokenExpirySkew)) {
		return cred, nil
	}
	return v.refresh(ctx, platform, userID, "")
}

// ForceRefresh 在平台拒绝 staleAccessToken 后刷新凭据。
// 若存储的令牌已与 staleAccessToken 不同，说明其他请求已完成刷新，直接复用。
func (v *TokenVault) ForceRefresh(ctx context.Context, platform, userID, staleAccessToken string) (*db.OAuthCredential, error) {
	return v.refresh(ctx, platform, userID, staleAccessToken)
}

func (v *TokenVault) refresh(ctx context.Context, platform, userID, staleAccessToken string) (*db.OAuthCredential, error) {
	key := platform + "/" + userID
	ch := v.flights.DoChan(key, func() (any, error) {
		// 刷新结果由所有等待者共享，不能被发起者的取消打断
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		defer cancel()

		cred, err := v.load(flightCtx, platform, userID)
		if err != nil {
			return nil, err
		}
		if staleAccessToken == "" && cred.ValidAt(v.now().Add(tokenExpirySkew)) {
			return cred, nil
		}
		if staleAccessToken != "" && cred.AccessToken != staleAccessToken {
			return cred, nil
		}
		if cred.RefreshToken == "" || v.refresher == nil {
			return nil, fmt.Errorf("%w: no refresh token stored for %s", ErrAuthRequired, key)
		}

		token, err := v.refresher.Refresh(flightCtx, cred.RefreshToken)
		if err != nil {
			v.logger.Warn("token refresh failed", "platform", platform, "user_id", userID, "error", err)
			return nil, fmt.Errorf("%w: refresh failed: %v", ErrAuthRequired, err)
		}
		if token == nil || token.AccessToken == "" {
			return nil, fmt.Errorf("%w: refresh returned no access token", ErrAuthRequired)
		}

		updates := map[string]any{
			"access_token": token.AccessToken,
			"token_type":   token.TokenType,
			"expiry":       token.Expiry.UTC(),
		}
		if token.RefreshToken != "" {
			updates["refresh_token"] = token.RefreshToken
		}
		if err := v.db.WithContext(flightCtx).Model(&db.OAuthCredential{}).
			Where("id = ?", cred.ID).
			Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("save refreshed credential: %w", err)
		}
		v.logger.Info("token refreshed", "platform", platform, "user_id", userID, "expiry", token.Expiry)
		return v.load(flightCtx, platform, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*db.OAuthCredential), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Revoke 删除账号凭据。
func (v *TokenVault) Revoke(ctx context.Context, platform, userID string) error {
	res := v.db.WithContext(ctx).
		Where("platform = ? AND user_id = ?", platform, userID).
		Delete(&db.OAuthCredential{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Default 返回平台下最近更新的账号，用于未显式指定发布账号的场景。
func (v *TokenVault) Default(ctx context.Context, platform string) (*db.OAuthCredential, error) {
	var cred db.OAuthCredential
	err := v.db.WithContext(ctx).
		Where("platform = ?", platform).
		Order("updated_at desc, id desc").
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// List 返回全部已连接账号，调用方负责不暴露令牌字段。
func (v *TokenVault) List(ctx context.Context) ([]db.OAuthCredential, error) {
	var creds []db.OAuthCredential
	if err := v.db.WithContext(ctx).Order("platform asc, updated_at desc").Find(&creds).Error; err != nil {
		return nil, err
	}
	return creds, nil
}

func (v *TokenVault) load(ctx context.Context, platform, userID string) (*db.OAuthCredential, error) {
	var cred db.OAuthCredential
	err := v.db.WithContext(ctx).
		Where("platform = ? AND user_id = ?", platform, userID).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &cred, nil
}
