package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/source2social/internal/db"
	"github.com/source2social/internal/service"
	"github.com/spf13/pflag"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type samplePost struct {
	sha      string
	message  string
	content  string
	status   string
	errClass string
	errMsg   string
}

var samplePosts = []samplePost{
	{sha: "a1c9e0f1", message: "feat: add webhook signature verification", content: "✨ Webhooks are now HMAC verified", status: db.PostStatusDraft},
	{sha: "b2d8f1e2", message: "fix: handle empty commit lists", content: "🐛 Empty pushes no longer error out", status: db.PostStatusReady},
	{sha: "c3e7a2d3", message: "docs: document template placeholders", content: "📝 Template placeholders are documented", status: db.PostStatusPublished},
	{sha: "d4f6b3c4", message: "refactor: split publisher from post store", content: "♻️ Publisher and post store are now separate", status: db.PostStatusFailed, errClass: db.ErrorClassRateLimited, errMsg: "platform returned HTTP 429: Too Many Requests"},
	{sha: "e5a5c4b5", message: "chore: bump dependencies", content: "", status: db.PostStatusFailed, errClass: db.ErrorClassGeneration, errMsg: "generate post: model returned empty content"},
}

// 测试数据生成器：为本地调试写入覆盖各个状态的帖子
func main() {
	dbPath := pflag.String("db", "source2social.db", "sqlite db path")
	repo := pflag.String("repo", "user/source2social", "repository full name for seeded posts")
	pflag.Parse()

	// 初始化数据库
	if err := db.Init(*dbPath, logger.Warn); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成测试数据...")
	created, err := seedPosts(context.Background(), db.DB, *repo)
	if err != nil {
		log.Fatal("生成测试帖子失败:", err)
	}
	fmt.Printf("测试数据生成完成！新增帖子: %d\n", created)
}

// seedPosts 幂等写入示例帖子，返回新创建的数量。
func seedPosts(ctx context.Context, gdb *gorm.DB, repo string) (int, error) {
	posts := service.NewPostService(gdb, 280)
	created := 0
	for _, sample := range samplePosts {
		input := service.PostInput{
			Repository:    repo,
			CommitSHA:     sample.sha,
			CommitURL:     fmt.Sprintf("https://github.com/%s/commit/%s", repo, sample.sha),
			Author:        "octocat",
			CommitMessage: sample.message,
			Category:      service.Classify(sample.message),
			Content:       sample.content,
			Platform:      service.PlatformX,
		}

		var (
			post     *db.Post
			inserted bool
			err      error
		)
		if sample.errClass == db.ErrorClassGeneration {
			post, inserted, err = posts.CreateFailed(ctx, input, errors.New(sample.errMsg))
		} else {
			post, inserted, err = posts.Create(ctx, input)
		}
		if err != nil {
			return created, fmt.Errorf("create %s: %w", sample.sha, err)
		}
		if !inserted {
			continue
		}
		created++

		switch {
		case sample.status == db.PostStatusReady:
			_, err = posts.MarkReady(ctx, post.ID)
		case sample.status == db.PostStatusPublished:
			_, err = posts.MarkPublished(ctx, post.ID, "seed-"+sample.sha, time.Now())
		case sample.status == db.PostStatusFailed && sample.errClass != db.ErrorClassGeneration:
			retryAfter := time.Now().Add(15 * time.Minute)
			_, err = posts.MarkFailed(ctx, post.ID, sample.errClass, sample.errMsg, &retryAfter)
		}
		if err != nil {
			return created, fmt.Errorf("transition %s: %w", sample.sha, err)
		}
	}
	return created, nil
}
