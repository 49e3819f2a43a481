package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/source2social/internal/db"
	"golang.org/x/sync/singleflight"
)

type credentialSource interface {
	GetValid(ctx context.Context, platform, userID string) (*db.OAuthCredential, error)
	ForceRefresh(ctx context.Context, platform, userID, staleAccessToken string) (*db.OAuthCredential, error)
	Default(ctx context.Context, platform string) (*db.OAuthCredential, error)
}

type postCreator interface {
	CreatePost(ctx context.Context, accessToken, text string) (string, error)
}

// Publisher 把 draft/ready 帖子发送到 X，并把结果写回帖子状态。
type Publisher struct {
	posts     *PostService
	vault     credentialSource
	client    postCreator
	accountID string
	inflight  singleflight.Group
	now       func() time.Time
	logger    *slog.Logger
}

// NewPublisher 构造 Publisher。accountID 为空时使用最近授权的账号。
func NewPublisher(posts *PostService, vault credentialSource, client postCreator, accountID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		posts:     posts,
		vault:     vault,
		client:    client,
		accountID: strings.TrimSpace(accountID),
		now:       time.Now,
		logger:    logger,
	}
}

// Publish 发布帖子。draft 帖子会被隐式视为已审核。
// 平台拒绝时帖子进入 failed 并返回 *PublishError，同时返回更新后的帖子。
// 同一帖子的并发调用共享一次发布尝试。
func (p *Publisher) Publish(ctx context.Context, postID uint) (*db.Post, error) {
	// 发布结果必须落库，不随调用方取消而中断
	ctx = context.WithoutCancel(ctx)
	res, err, _ := p.inflight.Do(strconv.FormatUint(uint64(postID), 10), func() (any, error) {
		post, err := p.publish(ctx, postID)
		return post, err
	})
	post, _ := res.(*db.Post)
	return post, err
}

func (p *Publisher) publish(ctx context.Context, postID uint) (*db.Post, error) {
	post, err := p.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	switch post.Status {
	case db.PostStatusPublished:
		return post, ErrPostPublished
	case db.PostStatusDraft, db.PostStatusReady:
	default:
		return post, ErrInvalidTransition
	}

	content := strings.TrimSpace(post.EffectiveContent())
	if err := p.posts.ValidateContent(content); err != nil {
		return post, err
	}

	logger := p.logger.With("post_id", post.ID, "repository", post.Repository, "commit", post.CommitSHA)

	cred, err := p.resolveCredential(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthRequired) || errors.Is(err, ErrCredentialNotFound) {
			return p.fail(ctx, logger, post.ID, &PublishError{Class: db.ErrorClassAuth, Err: err})
		}
		return post, err
	}

	externalID, err := p.client.CreatePost(ctx, cred.AccessToken, content)
	if IsPublishAuth(err) {
		logger.Info("platform rejected credential, refreshing once", "user_id", cred.UserID, "error", err)
		refreshed, refreshErr := p.vault.ForceRefresh(ctx, PlatformX, cred.UserID, cred.AccessToken)
		if refreshErr != nil {
			return p.fail(ctx, logger, post.ID, &PublishError{Class: db.ErrorClassAuth, Err: refreshErr})
		}
		externalID, err = p.client.CreatePost(ctx, refreshed.AccessToken, content)
	}
	if err != nil {
		var publishErr *PublishError
		if !errors.As(err, &publishErr) {
			publishErr = &PublishError{Class: db.ErrorClassPublish, Err: err}
		}
		return p.fail(ctx, logger, post.ID, publishErr)
	}

	published, err := p.posts.MarkPublished(ctx, post.ID, externalID, p.now())
	if err != nil {
		// 平台已接收但本地状态未更新，只能记录以便人工核对
		logger.Error("post published but status update failed", "external_id", externalID, "error", err)
		return nil, err
	}
	logger.Info("post published", "external_id", externalID, "user_id", cred.UserID)
	return published, nil
}

func (p *Publisher) resolveCredential(ctx context.Context) (*db.OAuthCredential, error) {
	userID := p.accountID
	if userID == "" {
		account, err := p.vault.Default(ctx, PlatformX)
		if err != nil {
			return nil, err
		}
		userID = account.UserID
	}
	return p.vault.GetValid(ctx, PlatformX, userID)
}

func (p *Publisher) fail(ctx context.Context, logger *slog.Logger, postID uint, publishErr *PublishError) (*db.Post, error) {
	logger.Warn("publish failed", "class", publishErr.Class, "status", publishErr.StatusCode, "error", publishErr.Error())
	failed, err := p.posts.MarkFailed(ctx, postID, publishErr.Class, publishErr.Error(), publishErr.RetryAfter)
	if err != nil {
		return nil, errors.Join(publishErr, err)
	}
	return failed, publishErr
}
