package db

import (
	"strings"
	"time"
)

// 帖子状态
const (
	PostStatusDraft     = "draft"
	PostStatusReady     = "ready"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

// 失败分类，供外部调度器判断是否以及何时重新入队
const (
	ErrorClassGeneration  = "generation"
	ErrorClassAuth        = "auth"
	ErrorClassRateLimited = "rate_limited"
	ErrorClassPublish     = "publish"
)

// Post 是由一次提交生成的社交媒体帖子。
// (repository, commit_sha) 唯一，重复投递同一提交不会产生第二行。
type Post struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Repository       string     `gorm:"size:200;not null;uniqueIndex:idx_posts_repo_commit,priority:1" json:"repository"`
	CommitSHA        string     `gorm:"size:64;not null;uniqueIndex:idx_posts_repo_commit,priority:2" json:"commitSha"`
	CommitURL        string     `gorm:"size:500" json:"commitUrl"`
	Author           string     `gorm:"size:200" json:"author"`
	CommitMessage    string     `gorm:"type:text" json:"commitMessage"`
	Category         string     `gorm:"size:20" json:"category"`
	GeneratedContent string     `gorm:"type:text" json:"generatedContent"`
	EditedContent    *string    `gorm:"type:text" json:"editedContent"`
	Status           string     `gorm:"size:20;not null;default:draft;index" json:"status"`
	Platform         string     `gorm:"size:50;not null" json:"platform"`
	ExternalPostID   *string    `gorm:"size:100" json:"externalPostId"`
	ErrorClass       string     `gorm:"size:20" json:"errorClass,omitempty"`
	ErrorMessage     string     `gorm:"type:text" json:"errorMessage,omitempty"`
	RetryAfter       *time.Time `json:"retryAfter,omitempty"`
	PublishedAt      *time.Time `json:"publishedAt"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// TableName 指定自定义表名。
func (Post) TableName() string {
	return "posts"
}

// EffectiveContent 返回实际发送到平台的内容：存在人工编辑时优先使用编辑内容。
func (p Post) EffectiveContent() string {
	if p.EditedContent != nil && strings.TrimSpace(*p.EditedContent) != "" {
		return *p.EditedContent
	}
	return p.GeneratedContent
}

// Editable 表示帖子是否仍处于可编辑状态。
func (p Post) Editable() bool {
	return p.Status == PostStatusDraft || p.Status == PostStatusReady
}
