package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/source2social/internal/config"
)

const (
	defaultCharLimit         = 280
	defaultPostMaxTokens     = 200
	defaultPostTemperature   = 0.7
	maxPromptChangedPaths    = 10
	maxPromptMessageRunes    = 2000
	defaultGenerationTimeout = 30 * time.Second
)

var toneDescriptions = map[string]string{
	"professional": "professional and business-like",
	"casual":       "casual and friendly",
	"technical":    "technical and detailed",
}

const defaultPostSystemPrompt = "You turn git commit messages into short, engaging social media posts for developers. " +
	"Reply with the post text only, without quotes or explanations."

// GenerateInput 描述一次帖子生成所需的上下文。
type GenerateInput struct {
	Repository string
	Branch     string
	Commit     Commit
}

// GeneratedPost 是模板套用后的最终文本。
type GeneratedPost struct {
	Content          string
	Category         Category
	PromptTokens     int
	CompletionTokens int
}

// PostGenerator 定义帖子生成能力，便于在流水线中注入不同实现。
type PostGenerator interface {
	Generate(ctx context.Context, input GenerateInput) (GeneratedPost, error)
}

// ContentGenerator 调用大模型接口把提交改写为帖子正文，再套用分类模板。
type ContentGenerator struct {
	client    *aiChatClient
	templates *TemplateSet
	tone      string
	charLimit int
	timeout   time.Duration
	logger    *slog.Logger
}

// NewContentGenerator 构造 ContentGenerator；templates 为 nil 时使用内置模板。
func NewContentGenerator(cfg config.AIConfig, templates *TemplateSet, charLimit int, logger *slog.Logger) *ContentGenerator {
	if templates == nil {
		templates = DefaultTemplateSet()
	}
	if charLimit <= 0 {
		charLimit = defaultCharLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	tone := strings.ToLower(strings.TrimSpace(cfg.Tone))
	if _, ok := toneDescriptions[tone]; !ok {
		tone = "professional"
	}
	return &ContentGenerator{
		client:    newAIChatClient(cfg),
		templates: templates,
		tone:      tone,
		charLimit: charLimit,
		timeout:   timeout,
		logger:    logger,
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (g *ContentGenerator) SetHTTPClient(client httpDoer) {
	g.client.SetHTTPClient(client)
}

// SetOpenAIBaseURL 覆盖默认的 OpenAI API 地址。
func (g *ContentGenerator) SetOpenAIBaseURL(base string) {
	g.client.SetOpenAIBaseURL(base)
}

// SetDeepSeekBaseURL 覆盖默认的 DeepSeek API 地址。
func (g *ContentGenerator) SetDeepSeekBaseURL(base string) {
	g.client.SetDeepSeekBaseURL(base)
}

// CharLimit 返回目标平台的字符上限。
func (g *ContentGenerator) CharLimit() int {
	return g.charLimit
}

// Generate 发起一次模型调用并返回不超过字符上限的帖子。
// 调用失败、超时或模型返回空内容时返回 *GenerationError，不做重试。
func (g *ContentGenerator) Generate(ctx context.Context, input GenerateInput) (GeneratedPost, error) {
	category := Classify(input.Commit.Message)
	values := TemplateValues{
		Repository: input.Repository,
		Author:     input.Commit.Author(),
		SHA:        input.Commit.ID,
		URL:        input.Commit.URL,
		Branch:     input.Branch,
	}
	budget := g.charLimit - g.templates.Overhead(category, values)
	if budget <= 0 {
		return GeneratedPost{}, &GenerationError{Err: fmt.Errorf("template for %s leaves no room for content", category)}
	}

	userPrompt := buildPostPrompt(input, g.tone, budget)
	logAIExchange(g.logger, "POST", "prompt", userPrompt)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.client.call(callCtx, aiChatRequest{
		SystemPrompt: defaultPostSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    defaultPostMaxTokens,
		Temperature:  defaultPostTemperature,
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return GeneratedPost{}, &GenerationError{Err: err}
	}
	logAIExchange(g.logger, "POST", "response", result.Content)

	text := normalizePlainText(result.Content)
	if text == "" {
		return GeneratedPost{}, &GenerationError{Err: errors.New("model returned empty content")}
	}

	content := g.templates.Render(category, fitContent(text, budget), values)
	return GeneratedPost{
		Content:          content,
		Category:         category,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
	}, nil
}

func buildPostPrompt(input GenerateInput, tone string, budget int) string {
	commit := input.Commit
	var builder strings.Builder
	fmt.Fprintf(&builder, "Convert this GitHub commit into a %s social media post for X.\n", toneDescriptions[tone])
	fmt.Fprintf(&builder, "The post text must not exceed %d characters.\n\n", budget)
	builder.WriteString("Commit details:\n")
	fmt.Fprintf(&builder, "- Repository: %s\n", input.Repository)
	if input.Branch != "" {
		fmt.Fprintf(&builder, "- Branch: %s\n", input.Branch)
	}
	if author := commit.Author(); author != "" {
		fmt.Fprintf(&builder, "- Author: %s\n", author)
	}
	fmt.Fprintf(&builder, "- Message: %s\n", truncateRunes(strings.TrimSpace(commit.Message), maxPromptMessageRunes))
	fmt.Fprintf(&builder, "- Changes: %d added, %d modified, %d removed files\n", len(commit.Added), len(commit.Modified), len(commit.Removed))

	paths := commit.ChangedPaths()
	if len(paths) > 0 {
		builder.WriteString("- Changed files:\n")
		for i, p := range paths {
			if i == maxPromptChangedPaths {
				fmt.Fprintf(&builder, "  … and %d more\n", len(paths)-maxPromptChangedPaths)
				break
			}
			fmt.Fprintf(&builder, "  %s\n", p)
		}
	}

	builder.WriteString("\nRequirements:\n")
	builder.WriteString("1. Make it engaging and shareable\n")
	builder.WriteString("2. Include one or two relevant hashtags\n")
	fmt.Fprintf(&builder, "3. Keep the %s tone\n", tone)
	builder.WriteString("4. Do not include links; the commit URL is added separately\n")
	return builder.String()
}

// truncateRunes 按字符数截断文本，不追加任何标记。
func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
