package db

import "time"

// OAuthCredential 保存某个平台账号的 OAuth 凭据，(platform, user_id) 唯一，重新授权时覆盖。
// 令牌字段不参与 JSON 序列化。
type OAuthCredential struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Platform     string    `gorm:"size:50;not null;uniqueIndex:idx_oauth_platform_user,priority:1" json:"platform"`
	UserID       string    `gorm:"size:100;not null;uniqueIndex:idx_oauth_platform_user,priority:2" json:"userId"`
	Username     string    `gorm:"size:100" json:"username"`
	AccessToken  string    `gorm:"type:text;not null" json:"-"`
	RefreshToken string    `gorm:"type:text" json:"-"`
	TokenType    string    `gorm:"size:20" json:"tokenType"`
	Expiry       time.Time `gorm:"index" json:"expiry"`
	Scope        string    `gorm:"size:500" json:"scope"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName 指定自定义表名。
func (OAuthCredential) TableName() string {
	return "oauth_credentials"
}

// ValidAt 判断访问令牌在 at 时刻是否仍可用；零值 Expiry 表示不过期。
func (c OAuthCredential) ValidAt(at time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.Expiry.IsZero() || c.Expiry.After(at)
}
