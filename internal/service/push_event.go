package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// PushEvent 是经过校验的 GitHub push 事件，只保留流水线需要的字段。
type PushEvent struct {
	Ref        string         `json:"ref"`
	Repository PushRepository `json:"repository"`
	Commits    []PushCommit   `json:"commits" validate:"required,dive"`
}

// PushRepository 描述事件所属仓库。
type PushRepository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name" validate:"required"`
	HTMLURL  string `json:"html_url"`
}

// PushCommit 是 payload 中的单个提交。
type PushCommit struct {
	ID        string     `json:"id" validate:"required"`
	Message   string     `json:"message"`
	Timestamp string     `json:"timestamp"`
	URL       string     `json:"url"`
	Author    PushAuthor `json:"author"`
	Added     []string   `json:"added"`
	Modified  []string   `json:"modified"`
	Removed   []string   `json:"removed"`
}

// PushAuthor 是提交作者。
type PushAuthor struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Commit 是从 push 事件派生出的瞬态提交记录，不单独持久化。
type Commit struct {
	ID             string
	Message        string
	AuthorName     string
	AuthorUsername string
	AuthorEmail    string
	Timestamp      time.Time
	URL            string
	Added          []string
	Modified       []string
	Removed        []string
}

// ChangedPaths 返回新增、修改、删除路径的并集，保持出现顺序。
func (c Commit) ChangedPaths() []string {
	seen := make(map[string]struct{}, len(c.Added)+len(c.Modified)+len(c.Removed))
	paths := make([]string, 0, len(c.Added)+len(c.Modified)+len(c.Removed))
	for _, group := range [][]string{c.Added, c.Modified, c.Removed} {
		for _, p := range group {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	return paths
}

// Author 返回用于展示的作者标识，优先使用 GitHub 用户名。
func (c Commit) Author() string {
	if c.AuthorUsername != "" {
		return c.AuthorUsername
	}
	if c.AuthorName != "" {
		return c.AuthorName
	}
	return c.AuthorEmail
}

// Branch 从 refs/heads/<branch> 中取出分支名；非分支 ref 原样返回。
func (e PushEvent) Branch() string {
	return strings.TrimPrefix(e.Ref, "refs/heads/")
}

var pushValidator = newPushValidator()

func newPushValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParsePushEvent 是 webhook 负载唯一的解析与校验入口：
// 缺少仓库标识或 commits 列表的负载返回 *ValidationError。
func ParsePushEvent(body []byte) (PushEvent, error) {
	var event PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return PushEvent{}, &ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}

	// 先去掉首尾空白，纯空白的标识按缺失处理
	event.Repository.FullName = strings.TrimSpace(event.Repository.FullName)
	for i := range event.Commits {
		event.Commits[i].ID = strings.TrimSpace(event.Commits[i].ID)
	}

	if err := pushValidator.Struct(event); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			field := strings.TrimPrefix(fe.Namespace(), "PushEvent.")
			return PushEvent{}, &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
			}
		}
		return PushEvent{}, &ValidationError{Message: err.Error()}
	}
	return event, nil
}

// toCommit 将 payload 提交转换为 Commit；无法解析的时间戳保留为零值。
func (pc PushCommit) toCommit() Commit {
	return Commit{
		ID:             pc.ID,
		Message:        pc.Message,
		AuthorName:     pc.Author.Name,
		AuthorUsername: pc.Author.Username,
		AuthorEmail:    pc.Author.Email,
		Timestamp:      parseCommitTimestamp(pc.Timestamp),
		URL:            pc.URL,
		Added:          pc.Added,
		Modified:       pc.Modified,
		Removed:        pc.Removed,
	}
}

var commitTimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseCommitTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range commitTimestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
