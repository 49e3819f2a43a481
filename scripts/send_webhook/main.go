package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/source2social/internal/service"
	"github.com/spf13/pflag"
)

// 发送一个带签名的示例 push 事件，便于本地联调 webhook。
func main() {
	baseURL := pflag.String("url", "http://localhost:8080", "server base url")
	secret := pflag.String("secret", os.Getenv("WEBHOOK_SECRET"), "webhook secret; empty sends an unsigned delivery")
	event := pflag.String("event", "push", "X-GitHub-Event header")
	repo := pflag.String("repo", "user/source2social", "repository full name")
	message := pflag.String("message", "feat: add social media post generation feature", "commit message")
	pflag.Parse()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}

	body, err := json.Marshal(samplePayload(*repo, *message))
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode payload: %v\n", err)
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPost, *baseURL+"/webhook/github", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "build request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", *event)
	req.Header.Set("X-GitHub-Delivery", uuid.NewString())
	if *secret != "" {
		req.Header.Set(service.SignatureHeader, service.SignBody([]byte(*secret), body))
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "send webhook: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("status: %s\n%s\n", resp.Status, respBody)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func checkHealth(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func samplePayload(repo, message string) service.PushEvent {
	sha := uuid.New()
	return service.PushEvent{
		Ref: "refs/heads/main",
		Repository: service.PushRepository{
			Name:     "source2social",
			FullName: repo,
			HTMLURL:  "https://github.com/" + repo,
		},
		Commits: []service.PushCommit{{
			ID:        fmt.Sprintf("%x", sha[:]),
			Message:   message,
			Timestamp: time.Now().Format(time.RFC3339),
			URL:       fmt.Sprintf("https://github.com/%s/commit/%x", repo, sha[:]),
			Author: service.PushAuthor{
				Name:  "John Developer",
				Email: "john@example.com",
			},
			Added:    []string{"app.go", "templates/dashboard.html"},
			Modified: []string{"go.mod", "README.md"},
			Removed:  []string{},
		}},
	}
}
