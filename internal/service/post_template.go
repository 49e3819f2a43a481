package service

import (
	"regexp"
	"strings"
)

// Category 是提交消息的分类，取值为封闭集合。
type Category string

const (
	CategoryFeature  Category = "feature"
	CategoryFix      Category = "fix"
	CategoryDocs     Category = "docs"
	CategoryRefactor Category = "refactor"
	CategoryDefault  Category = "default"
)

// Categories 按固定顺序列出全部分类。
var Categories = []Category{CategoryFeature, CategoryFix, CategoryDocs, CategoryRefactor, CategoryDefault}

var conventionalPrefix = regexp.MustCompile(`^([A-Za-z]+)(\([^)]*\))?!?:`)

// Classify 根据 conventional commit 前缀（type(scope)!:）判断分类，无法识别时返回 default。
func Classify(message string) Category {
	firstLine, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	match := conventionalPrefix.FindStringSubmatch(firstLine)
	if match == nil {
		return CategoryDefault
	}
	switch strings.ToLower(match[1]) {
	case "feat", "feature":
		return CategoryFeature
	case "fix", "bugfix", "hotfix":
		return CategoryFix
	case "docs":
		return CategoryDocs
	case "refactor":
		return CategoryRefactor
	default:
		return CategoryDefault
	}
}

// ParseCategory 将字符串转换为已知分类。
func ParseCategory(value string) (Category, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, c := range Categories {
		if string(c) == value {
			return c, true
		}
	}
	return "", false
}

const contentPlaceholder = "{content}"

var defaultTemplates = map[Category]string{
	CategoryFeature:  "🚀 New in {repo_name}: {content}\n{url}",
	CategoryFix:      "🐛 Fixed in {repo_name}: {content}\n{url}",
	CategoryDocs:     "📚 Docs update for {repo_name}: {content}\n{url}",
	CategoryRefactor: "🔧 Under the hood in {repo_name}: {content}\n{url}",
	CategoryDefault:  "{content}\n{url}",
}

// TemplateSet 为每个分类保存恰好一个帖子模板。
type TemplateSet struct {
	templates map[Category]string
}

// TemplateValues 是渲染模板时可用的占位符取值。
type TemplateValues struct {
	Repository string
	Author     string
	SHA        string
	URL        string
	Branch     string
}

// NewTemplateSet 以内置模板为基础，按分类名覆盖配置中的模板。
// 未知分类、或 {content} 没有恰好出现一次的模板返回 *ValidationError。
func NewTemplateSet(overrides map[string]string) (*TemplateSet, error) {
	templates := make(map[Category]string, len(defaultTemplates))
	for category, tmpl := range defaultTemplates {
		templates[category] = tmpl
	}
	for key, tmpl := range overrides {
		category, ok := ParseCategory(key)
		if !ok {
			return nil, &ValidationError{Field: "templates." + key, Message: "unknown category"}
		}
		if strings.Count(tmpl, contentPlaceholder) != 1 {
			return nil, &ValidationError{Field: "templates." + key, Message: "template must contain {content} exactly once"}
		}
		templates[category] = tmpl
	}
	return &TemplateSet{templates: templates}, nil
}

// DefaultTemplateSet 返回只包含内置模板的集合。
func DefaultTemplateSet() *TemplateSet {
	set, _ := NewTemplateSet(nil)
	return set
}

// Template 返回分类对应的模板，未知分类回退到 default。
func (s *TemplateSet) Template(category Category) string {
	if tmpl, ok := s.templates[category]; ok {
		return tmpl
	}
	return s.templates[CategoryDefault]
}

// Overhead 返回模板除 {content} 之外渲染后占用的 PostLength。
func (s *TemplateSet) Overhead(category Category, values TemplateValues) int {
	return PostLength(s.Render(category, "x", values)) - 1
}

// Render 填充模板占位符。{content} 最后替换，避免正文里的花括号被当作占位符。
func (s *TemplateSet) Render(category Category, content string, values TemplateValues) string {
	repoName := values.Repository
	if idx := strings.LastIndex(repoName, "/"); idx >= 0 {
		repoName = repoName[idx+1:]
	}
	shortSHA := values.SHA
	if len(shortSHA) > 7 {
		shortSHA = shortSHA[:7]
	}

	replacer := strings.NewReplacer(
		"{repo}", values.Repository,
		"{repo_name}", repoName,
		"{author}", values.Author,
		"{sha}", values.SHA,
		"{short_sha}", shortSHA,
		"{url}", values.URL,
		"{branch}", values.Branch,
	)
	rendered := replacer.Replace(s.Template(category))
	rendered = strings.Replace(rendered, contentPlaceholder, content, 1)
	return strings.TrimSpace(rendered)
}

func (c Category) String() string {
	return string(c)
}
