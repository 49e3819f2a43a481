package service

import (
	"context"
	"iter"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"
)

// SkipReason 说明某个提交为何没有进入生成阶段，空字符串表示提交合格。
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipRepository SkipReason = "repository_filtered"
	SkipBranch     SkipReason = "branch_filtered"
	SkipMessage    SkipReason = "message_filtered"
	SkipPaths      SkipReason = "paths_excluded"
	SkipDuplicate  SkipReason = "duplicate"
)

// ExtractorConfig 描述提交过滤策略。
type ExtractorConfig struct {
	// Repositories 为 owner/name glob 列表，大小写不敏感，为空时接受所有仓库。
	Repositories []string
	// Branches 为分支 glob 列表，为空时接受所有分支。
	Branches []string
	// ExcludePaths 为排除路径模式，提交的全部变更路径都命中时丢弃该提交。
	ExcludePaths     []string
	MinMessageLength int
	SkipMerges       bool
}

// postIndex 用于重复提交检测。
type postIndex interface {
	Exists(ctx context.Context, repository, commitSHA string) (bool, error)
}

// CommitExtractor 将 push 事件展开为按投递顺序排列的提交序列。
type CommitExtractor struct {
	cfg    ExtractorConfig
	posts  postIndex
	logger *slog.Logger
}

// NewCommitExtractor 构造提交提取器，posts 为 nil 时不做重复检测。
func NewCommitExtractor(cfg ExtractorConfig, posts postIndex, logger *slog.Logger) *CommitExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommitExtractor{cfg: cfg, posts: posts, logger: logger}
}

// Walk 惰性地产出事件中的每个提交及其跳过原因，顺序与 payload 一致。
// 每次调用都是独立的序列，不在两次投递之间保留任何状态。
func (e *CommitExtractor) Walk(ctx context.Context, event PushEvent) iter.Seq2[Commit, SkipReason] {
	return func(yield func(Commit, SkipReason) bool) {
		gate := SkipNone
		if !e.RepositoryAllowed(event.Repository.FullName) {
			gate = SkipRepository
		} else if !e.BranchAllowed(event.Branch()) {
			gate = SkipBranch
		}
		for _, raw := range event.Commits {
			commit := raw.toCommit()
			if !yield(commit, e.classify(ctx, event.Repository.FullName, gate, commit)) {
				return
			}
		}
	}
}

// Qualifying 只产出通过全部过滤条件的提交。
func (e *CommitExtractor) Qualifying(ctx context.Context, event PushEvent) iter.Seq[Commit] {
	return func(yield func(Commit) bool) {
		for commit, reason := range e.Walk(ctx, event) {
			if reason != SkipNone {
				continue
			}
			if !yield(commit) {
				return
			}
		}
	}
}

// classify 依次检查 gate（仓库、分支）、提交说明、变更路径与重复。
func (e *CommitExtractor) classify(ctx context.Context, repository string, gate SkipReason, commit Commit) SkipReason {
	if gate != SkipNone {
		return gate
	}
	if !e.messageAllowed(commit.Message) {
		return SkipMessage
	}
	if e.onlyExcludedPaths(commit.ChangedPaths()) {
		return SkipPaths
	}
	if e.posts != nil {
		exists, err := e.posts.Exists(ctx, repository, commit.ID)
		if err != nil {
			// 唯一索引才是最终保障，这里查询失败时继续处理
			e.logger.Warn("duplicate lookup failed", "repository", repository, "commit", commit.ID, "error", err)
		} else if exists {
			return SkipDuplicate
		}
	}
	return SkipNone
}

// RepositoryAllowed 判断 owner/name 是否命中配置的仓库列表。
func (e *CommitExtractor) RepositoryAllowed(fullName string) bool {
	if len(e.cfg.Repositories) == 0 {
		return true
	}
	name := strings.ToLower(fullName)
	for _, pattern := range e.cfg.Repositories {
		pattern = strings.ToLower(pattern)
		if pattern == name {
			return true
		}
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// BranchAllowed 判断分支是否命中配置的 glob 列表。
func (e *CommitExtractor) BranchAllowed(branch string) bool {
	if len(e.cfg.Branches) == 0 {
		return true
	}
	for _, pattern := range e.cfg.Branches {
		if pattern == branch {
			return true
		}
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}

var mergeMessagePrefixes = []string{
	"Merge pull request ",
	"Merge branch ",
	"Merge remote-tracking branch ",
}

func (e *CommitExtractor) messageAllowed(message string) bool {
	trimmed := strings.TrimSpace(message)
	if utf8.RuneCountInString(trimmed) < e.cfg.MinMessageLength {
		return false
	}
	if e.cfg.SkipMerges {
		for _, prefix := range mergeMessagePrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				return false
			}
		}
	}
	return true
}

// onlyExcludedPaths 在所有变更路径都命中排除模式时返回 true；没有变更路径的提交保留。
func (e *CommitExtractor) onlyExcludedPaths(paths []string) bool {
	if len(e.cfg.ExcludePaths) == 0 || len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		if !matchesAnyPattern(e.cfg.ExcludePaths, p) {
			return false
		}
	}
	return true
}

// matchesAnyPattern 支持三种写法：完整路径 glob（docs/*）、
// 不含斜杠时匹配文件名（*.md）、以及 dir/** 匹配目录下的任意层级。
func matchesAnyPattern(patterns []string, filePath string) bool {
	filePath = strings.TrimPrefix(filePath, "./")
	for _, pattern := range patterns {
		pattern = strings.TrimPrefix(strings.TrimSpace(pattern), "./")
		if pattern == "" {
			continue
		}
		if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
			if strings.HasPrefix(filePath, dir+"/") {
				return true
			}
			continue
		}
		if ok, err := path.Match(pattern, filePath); err == nil && ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, err := path.Match(pattern, path.Base(filePath)); err == nil && ok {
				return true
			}
		}
	}
	return false
}
