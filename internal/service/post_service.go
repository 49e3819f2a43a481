package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/source2social/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostService wraps post related database operations. Every status change is
// a single conditional UPDATE so concurrent requests cannot skip a state.
type PostService struct {
	db        *gorm.DB
	charLimit int
}

// PostFilter describes filters for listing posts.
type PostFilter struct {
	Search     string
	Status     string
	Repository string
	Page       int
	PerPage    int
}

// PostListResult aggregates paginated list data and counters.
type PostListResult struct {
	Posts        []db.Post
	Total        int64
	StatusCounts map[string]int64
	TotalPages   int
	Page         int
	PerPage      int
}

// PostInput represents the fields recorded when a commit becomes a post.
type PostInput struct {
	Repository    string
	CommitSHA     string
	CommitURL     string
	Author        string
	CommitMessage string
	Category      Category
	Content       string
	Platform      string
}

// NewPostService creates a PostService instance. charLimit bounds edited content.
func NewPostService(gdb *gorm.DB, charLimit int) *PostService {
	if charLimit <= 0 {
		charLimit = defaultCharLimit
	}
	return &PostService{db: gdb, charLimit: charLimit}
}

// CharLimit returns the platform limit enforced on post content.
func (s *PostService) CharLimit() int {
	return s.charLimit
}

// Create stores a draft post. When the (repository, commit) pair already
// exists the stored post is returned with created=false.
func (s *PostService) Create(ctx context.Context, input PostInput) (*db.Post, bool, error) {
	post := newPost(input)
	post.Status = db.PostStatusDraft
	post.GeneratedContent = strings.TrimSpace(input.Content)
	return s.insert(ctx, post)
}

// CreateFailed records a commit whose content generation failed so the
// failure is visible and can be requeued.
func (s *PostService) CreateFailed(ctx context.Context, input PostInput, cause error) (*db.Post, bool, error) {
	post := newPost(input)
	post.Status = db.PostStatusFailed
	post.ErrorClass = db.ErrorClassGeneration
	if cause != nil {
		post.ErrorMessage = cause.Error()
	}
	return s.insert(ctx, post)
}

func newPost(input PostInput) db.Post {
	category := input.Category
	if category == "" {
		category = Classify(input.CommitMessage)
	}
	platform := strings.TrimSpace(input.Platform)
	if platform == "" {
		platform = PlatformX
	}
	return db.Post{
		Repository:    strings.TrimSpace(input.Repository),
		CommitSHA:     strings.TrimSpace(input.CommitSHA),
		CommitURL:     strings.TrimSpace(input.CommitURL),
		Author:        strings.TrimSpace(input.Author),
		CommitMessage: input.CommitMessage,
		Category:      string(category),
		Platform:      platform,
	}
}

func (s *PostService) insert(ctx context.Context, post db.Post) (*db.Post, bool, error) {
	if post.Repository == "" || post.CommitSHA == "" {
		return nil, false, &ValidationError{Field: "commit", Message: "repository and commit sha are required"}
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repository"}, {Name: "commit_sha"}},
			DoNothing: true,
		}).
		Create(&post)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return &post, true, nil
	}

	var existing db.Post
	if err := s.db.WithContext(ctx).
		Where("repository = ? AND commit_sha = ?", post.Repository, post.CommitSHA).
		First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// Get fetches a post by id.
func (s *PostService) Get(ctx context.Context, id uint) (*db.Post, error) {
	var post db.Post
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// Exists reports whether a post was already created for the commit.
func (s *PostService) Exists(ctx context.Context, repository, commitSHA string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&db.Post{}).
		Where("repository = ? AND commit_sha = ?", repository, commitSHA).
		Count(&count).Error
	return count > 0, err
}

// List provides paginated posts with per-status counters based on filters.
func (s *PostService) List(ctx context.Context, filter PostFilter) (*PostListResult, error) {
	result := &PostListResult{Page: filter.Page, PerPage: filter.PerPage}
	if result.Page <= 0 {
		result.Page = 1
	}
	if result.PerPage <= 0 {
		result.PerPage = 20
	}

	gdb := s.db.WithContext(ctx)
	if err := s.applyFilters(gdb.Model(&db.Post{}), filter, true).Count(&result.Total).Error; err != nil {
		return nil, err
	}

	orderBy := "posts.created_at desc, posts.id desc"
	if strings.EqualFold(filter.Status, db.PostStatusPublished) {
		orderBy = "posts.published_at desc, posts.id desc"
	}

	var posts []db.Post
	offset := (result.Page - 1) * result.PerPage
	if err := s.applyFilters(gdb.Model(&db.Post{}), filter, true).
		Order(orderBy).Limit(result.PerPage).Offset(offset).
		Find(&posts).Error; err != nil {
		return nil, err
	}

	var counters []struct {
		Status string
		Count  int64
	}
	if err := s.applyFilters(gdb.Model(&db.Post{}), filter, false).
		Select("posts.status AS status, COUNT(*) AS count").
		Group("posts.status").
		Scan(&counters).Error; err != nil {
		return nil, err
	}
	result.StatusCounts = map[string]int64{
		db.PostStatusDraft:     0,
		db.PostStatusReady:     0,
		db.PostStatusPublished: 0,
		db.PostStatusFailed:    0,
	}
	for _, counter := range counters {
		result.StatusCounts[counter.Status] = counter.Count
	}

	if result.Total == 0 {
		result.TotalPages = 1
	} else {
		result.TotalPages = int((result.Total + int64(result.PerPage) - 1) / int64(result.PerPage))
	}

	result.Posts = posts
	return result, nil
}

func (s *PostService) applyFilters(query *gorm.DB, filter PostFilter, includeStatus bool) *gorm.DB {
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("(posts.generated_content LIKE ? OR posts.edited_content LIKE ? OR posts.commit_message LIKE ? OR posts.commit_sha LIKE ?)", like, like, like, like)
	}
	if repository := strings.TrimSpace(filter.Repository); repository != "" {
		query = query.Where("posts.repository = ?", repository)
	}
	if includeStatus && filter.Status != "" {
		query = query.Where("posts.status = ?", strings.ToLower(filter.Status))
	}
	return query
}

// ValidateContent checks the content that would be sent to the platform.
// Length is measured with PostLength, the weighted count X applies.
func (s *PostService) ValidateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("%w: content is empty", ErrContentInvalid)
	}
	if n := PostLength(trimmed); n > s.charLimit {
		return fmt.Errorf("%w: %d characters exceeds the limit of %d", ErrContentInvalid, n, s.charLimit)
	}
	return nil
}

// Edit replaces the content that will be published. Only draft and ready posts
// are editable; an edit identical to the current content changes nothing.
func (s *PostService) Edit(ctx context.Context, id uint, content string) (*db.Post, error) {
	trimmed := strings.TrimSpace(content)
	if err := s.ValidateContent(trimmed); err != nil {
		return nil, err
	}

	var updated db.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post db.Post
		if err := tx.First(&post, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return err
		}
		switch {
		case post.Status == db.PostStatusPublished:
			return ErrPostPublished
		case !post.Editable():
			return ErrInvalidTransition
		case post.EffectiveContent() == trimmed:
			updated = post
			return nil
		}

		res := tx.Model(&db.Post{}).
			Where("id = ? AND status IN ?", id, []string{db.PostStatusDraft, db.PostStatusReady}).
			Update("edited_content", trimmed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return resolveTransitionFailure(tx, id)
		}
		return tx.First(&updated, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// MarkReady approves a draft for publishing. Approving a ready post is a no-op.
func (s *PostService) MarkReady(ctx context.Context, id uint) (*db.Post, error) {
	return s.transition(ctx, id, []string{db.PostStatusDraft, db.PostStatusReady}, map[string]any{
		"status": db.PostStatusReady,
	})
}

// Requeue moves a failed post back to draft and clears the recorded failure.
func (s *PostService) Requeue(ctx context.Context, id uint) (*db.Post, error) {
	return s.transition(ctx, id, []string{db.PostStatusFailed, db.PostStatusDraft}, map[string]any{
		"status":        db.PostStatusDraft,
		"error_class":   "",
		"error_message": "",
		"retry_after":   nil,
	})
}

// MarkPublished records a successful publish.
func (s *PostService) MarkPublished(ctx context.Context, id uint, externalID string, at time.Time) (*db.Post, error) {
	return s.transition(ctx, id, []string{db.PostStatusDraft, db.PostStatusReady}, map[string]any{
		"status":           db.PostStatusPublished,
		"external_post_id": externalID,
		"published_at":     at.UTC(),
		"error_class":      "",
		"error_message":    "",
		"retry_after":      nil,
	})
}

// MarkFailed records a terminal publish failure. retryAfter is the platform
// hint for rate-limited posts and may be nil.
func (s *PostService) MarkFailed(ctx context.Context, id uint, class, message string, retryAfter *time.Time) (*db.Post, error) {
	updates := map[string]any{
		"status":        db.PostStatusFailed,
		"error_class":   class,
		"error_message": message,
		"retry_after":   nil,
	}
	if retryAfter != nil {
		updates["retry_after"] = retryAfter.UTC()
	}
	return s.transition(ctx, id, []string{db.PostStatusDraft, db.PostStatusReady}, updates)
}

// Delete removes a post that has not been published.
func (s *PostService) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status <> ?", id, db.PostStatusPublished).Delete(&db.Post{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return resolveTransitionFailure(tx, id)
		}
		return nil
	})
}

// StoreRegenerated 保存重新生成的内容：人工编辑被丢弃，帖子回到草稿并清除失败记录。
// 只有草稿或生成失败的帖子可以重新生成。
func (s *PostService) StoreRegenerated(ctx context.Context, id uint, content string, category Category) (*db.Post, error) {
	return s.transitionWhere(ctx, id, regenerable, map[string]any{
		"generated_content": strings.TrimSpace(content),
		"category":          string(category),
		"edited_content":    nil,
		"status":            db.PostStatusDraft,
		"error_class":       "",
		"error_message":     "",
		"retry_after":       nil,
	})
}

// MarkGenerationFailed records a failed regeneration attempt.
func (s *PostService) MarkGenerationFailed(ctx context.Context, id uint, message string) (*db.Post, error) {
	return s.transitionWhere(ctx, id, regenerable, map[string]any{
		"status":        db.PostStatusFailed,
		"error_class":   db.ErrorClassGeneration,
		"error_message": message,
		"retry_after":   nil,
	})
}

// canRegenerate 判断帖子当前能否重新生成内容，与 regenerable 的条件一致。
func canRegenerate(post *db.Post) bool {
	return post.Status == db.PostStatusDraft ||
		(post.Status == db.PostStatusFailed && post.ErrorClass == db.ErrorClassGeneration)
}

func regenerable(query *gorm.DB) *gorm.DB {
	return query.Where("status = ? OR (status = ? AND error_class = ?)",
		db.PostStatusDraft, db.PostStatusFailed, db.ErrorClassGeneration)
}

func (s *PostService) transition(ctx context.Context, id uint, from []string, updates map[string]any) (*db.Post, error) {
	return s.transitionWhere(ctx, id, func(query *gorm.DB) *gorm.DB {
		return query.Where("status IN ?", from)
	}, updates)
}

// transitionWhere 在事务内执行条件更新，scope 限定允许的起始状态。
func (s *PostService) transitionWhere(ctx context.Context, id uint, scope func(*gorm.DB) *gorm.DB, updates map[string]any) (*db.Post, error) {
	var post db.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := scope(tx.Model(&db.Post{}).Where("id = ?", id)).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return resolveTransitionFailure(tx, id)
		}
		return tx.First(&post, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// resolveTransitionFailure 在条件更新未命中时区分帖子不存在与状态不允许。
func resolveTransitionFailure(tx *gorm.DB, id uint) error {
	var post db.Post
	if err := tx.Select("id", "status").First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPostNotFound
		}
		return err
	}
	if post.Status == db.PostStatusPublished {
		return ErrPostPublished
	}
	return ErrInvalidTransition
}
