package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/source2social/internal/db"
)

// 单个提交在报告中的处理结果
const (
	CommitCreated          = "created"
	CommitSkipped          = "skipped"
	CommitDuplicate        = "duplicate"
	CommitGenerationFailed = "generation_failed"
	CommitPublished        = "published"
	CommitPublishFailed    = "publish_failed"
	CommitError            = "error"
)

// CommitResult 描述一次投递中单个提交的结果。
type CommitResult struct {
	CommitID string `json:"commit"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	PostID   uint   `json:"postId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PushReport 汇总一次 push 投递的处理情况。
type PushReport struct {
	Repository string         `json:"repository"`
	Branch     string         `json:"branch"`
	Received   int            `json:"received"`
	Created    int            `json:"created"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Published  int            `json:"published"`
	Commits    []CommitResult `json:"commits"`
}

type postPublisher interface {
	Publish(ctx context.Context, postID uint) (*db.Post, error)
}

// Pipeline 把 push 事件中的合格提交逐个转换为帖子。
type Pipeline struct {
	extractor     *CommitExtractor
	generator     PostGenerator
	posts         *PostService
	publisher     postPublisher
	autoPublish   bool
	commitTimeout time.Duration
	logger        *slog.Logger
}

// PipelineOptions 控制流水线策略。
type PipelineOptions struct {
	// AutoPublish 为 true 时新建的帖子立即发布，跳过人工审核。
	AutoPublish bool
	// CommitTimeout 约束单个提交的内容生成，0 表示使用默认值。
	CommitTimeout time.Duration
}

// NewPipeline 组装流水线；publisher 只在开启自动发布时使用，可以为 nil。
func NewPipeline(extractor *CommitExtractor, generator PostGenerator, posts *PostService, publisher postPublisher, opts PipelineOptions, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.CommitTimeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return &Pipeline{
		extractor:     extractor,
		generator:     generator,
		posts:         posts,
		publisher:     publisher,
		autoPublish:   opts.AutoPublish && publisher != nil,
		commitTimeout: timeout,
		logger:        logger,
	}
}

// HandlePush 按投递顺序逐个处理提交。单个提交失败只记录在报告中，不影响后续提交；
// 调用方断开连接也不会中断已开始的投递。
func (p *Pipeline) HandlePush(ctx context.Context, event PushEvent) PushReport {
	ctx = context.WithoutCancel(ctx)
	report := PushReport{
		Repository: event.Repository.FullName,
		Branch:     event.Branch(),
		Received:   len(event.Commits),
		Commits:    make([]CommitResult, 0, len(event.Commits)),
	}

	for commit, reason := range p.extractor.Walk(ctx, event) {
		var result CommitResult
		if reason != SkipNone {
			result = CommitResult{CommitID: commit.ID, Status: CommitSkipped, Reason: string(reason)}
		} else {
			result = p.processCommit(ctx, event, commit)
		}

		switch result.Status {
		case CommitCreated:
			report.Created++
		case CommitPublished:
			report.Created++
			report.Published++
		case CommitPublishFailed:
			report.Created++
			report.Failed++
		case CommitSkipped, CommitDuplicate:
			report.Skipped++
		default:
			report.Failed++
		}
		report.Commits = append(report.Commits, result)
	}

	p.logger.Info("push processed",
		"repository", report.Repository,
		"branch", report.Branch,
		"received", report.Received,
		"created", report.Created,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"published", report.Published,
	)
	return report
}

func (p *Pipeline) processCommit(ctx context.Context, event PushEvent, commit Commit) CommitResult {
	logger := p.logger.With("repository", event.Repository.FullName, "commit", commit.ID)
	result := CommitResult{CommitID: commit.ID}

	input := PostInput{
		Repository:    event.Repository.FullName,
		CommitSHA:     commit.ID,
		CommitURL:     commit.URL,
		Author:        commit.Author(),
		CommitMessage: commit.Message,
		Category:      Classify(commit.Message),
		Platform:      PlatformX,
	}

	genCtx, cancel := context.WithTimeout(ctx, p.commitTimeout)
	generated, genErr := p.generator.Generate(genCtx, GenerateInput{
		Repository: event.Repository.FullName,
		Branch:     event.Branch(),
		Commit:     commit,
	})
	cancel()

	if genErr != nil {
		var generationErr *GenerationError
		if !errors.As(genErr, &generationErr) {
			genErr = &GenerationError{Err: genErr}
		}
		logger.Warn("content generation failed", "error", genErr)
		post, created, err := p.posts.CreateFailed(ctx, input, genErr)
		if err != nil {
			logger.Error("record generation failure", "error", err)
			result.Status = CommitError
			result.Error = err.Error()
			return result
		}
		result.PostID = post.ID
		if !created {
			result.Status = CommitDuplicate
			return result
		}
		result.Status = CommitGenerationFailed
		result.Error = genErr.Error()
		return result
	}

	input.Content = generated.Content
	input.Category = generated.Category
	post, created, err := p.posts.Create(ctx, input)
	if err != nil {
		logger.Error("store post", "error", err)
		result.Status = CommitError
		result.Error = err.Error()
		return result
	}
	result.PostID = post.ID
	if !created {
		result.Status = CommitDuplicate
		return result
	}
	logger.Info("post drafted", "post_id", post.ID, "category", post.Category)
	result.Status = CommitCreated

	if p.autoPublish {
		if _, err := p.publisher.Publish(ctx, post.ID); err != nil {
			result.Status = CommitPublishFailed
			result.Error = err.Error()
			return result
		}
		result.Status = CommitPublished
	}
	return result
}

// Regenerate 用帖子保存的提交信息重新调用一次生成器。
// 只接受草稿或生成失败的帖子；成功时内容替换并回到草稿，失败时记录为生成失败，
// 同时返回更新后的帖子和 *GenerationError。
func (p *Pipeline) Regenerate(ctx context.Context, postID uint) (*db.Post, error) {
	ctx = context.WithoutCancel(ctx)
	post, err := p.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	switch {
	case post.Status == db.PostStatusPublished:
		return nil, ErrPostPublished
	case !canRegenerate(post):
		return nil, ErrInvalidTransition
	}

	logger := p.logger.With("repository", post.Repository, "commit", post.CommitSHA, "post_id", post.ID)
	commit := Commit{
		ID:             post.CommitSHA,
		Message:        post.CommitMessage,
		AuthorUsername: post.Author,
		URL:            post.CommitURL,
	}

	genCtx, cancel := context.WithTimeout(ctx, p.commitTimeout)
	generated, genErr := p.generator.Generate(genCtx, GenerateInput{
		Repository: post.Repository,
		Commit:     commit,
	})
	cancel()

	if genErr != nil {
		var generationErr *GenerationError
		if !errors.As(genErr, &generationErr) {
			generationErr = &GenerationError{Err: genErr}
		}
		logger.Warn("content regeneration failed", "error", generationErr)
		failed, err := p.posts.MarkGenerationFailed(ctx, post.ID, generationErr.Error())
		if err != nil {
			return nil, err
		}
		return failed, generationErr
	}

	updated, err := p.posts.StoreRegenerated(ctx, post.ID, generated.Content, generated.Category)
	if err != nil {
		return nil, err
	}
	logger.Info("post regenerated", "category", updated.Category)
	return updated, nil
}
