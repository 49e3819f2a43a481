package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AppConfig 汇总运行服务所需的全部配置，启动时构造一次后显式传入各组件。
type AppConfig struct {
	ListenAddr        string
	DatabasePath      string
	SessionSecret     string
	GinMode           string
	SuperRootUserName string
	SuperRootPassword string
	SiteBaseURL       string

	Log       LogConfig
	Webhook   WebhookConfig
	AI        AIConfig
	X         XConfig
	Pipeline  PipelineConfig
	Templates map[string]string
}

// LogConfig 控制结构化日志输出。
type LogConfig struct {
	Level  string
	Format string
}

// WebhookConfig 描述 GitHub webhook 的鉴权与提交过滤规则。
type WebhookConfig struct {
	Secret           string
	AllowUnsigned    bool
	Repositories     []string
	Branches         []string
	ExcludePaths     []string
	MinMessageLength int
	SkipMerges       bool
}

// AIConfig 描述文本生成服务。
type AIConfig struct {
	Provider        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string
	Tone            string
	Timeout         time.Duration
}

// XConfig 描述 X (Twitter) OAuth 应用与发布接口。
type XConfig struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AuthURL        string
	TokenURL       string
	APIBaseURL     string
	AccountID      string
	CharLimit      int
	PublishTimeout time.Duration
	RefreshTimeout time.Duration
}

// PipelineConfig 控制提交到帖子流程的策略。
type PipelineConfig struct {
	AutoPublish bool
}

// Load 依次读取 .env、config.yaml 与环境变量（环境变量优先），并为缺失项提供默认值。
// args 为命令行参数（不含程序名），支持 --config 与 --listen。
func Load(args []string) (AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, skipping")
	}

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("source2social", pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to a YAML config file")
	flags.String("listen", "", "listen address, e.g. :8080")
	if err := flags.Parse(args); err != nil {
		return AppConfig{}, fmt.Errorf("parse flags: %w", err)
	}
	if err := v.BindPFlag("listen_addr", flags.Lookup("listen")); err != nil {
		return AppConfig{}, fmt.Errorf("bind listen flag: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || *configFile != "" {
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("database_path", "source2social.db")
	v.SetDefault("session_secret", "source2social-dev-secret")
	v.SetDefault("gin_mode", "release")
	v.SetDefault("site_base_url", "http://localhost:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("webhook.allow_unsigned", false)
	v.SetDefault("webhook.repositories", []string{})
	v.SetDefault("webhook.branches", []string{})
	v.SetDefault("webhook.exclude_paths", []string{})
	v.SetDefault("webhook.min_message_length", 10)
	v.SetDefault("webhook.skip_merges", true)

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.openai_model", "gpt-4o-mini")
	v.SetDefault("ai.deepseek_base_url", "https://api.deepseek.com/v1")
	v.SetDefault("ai.deepseek_model", "deepseek-chat")
	v.SetDefault("ai.tone", "professional")
	v.SetDefault("ai.timeout", "30s")

	v.SetDefault("x.auth_url", "https://twitter.com/i/oauth2/authorize")
	v.SetDefault("x.token_url", "https://api.twitter.com/2/oauth2/token")
	v.SetDefault("x.api_base_url", "https://api.twitter.com")
	v.SetDefault("x.char_limit", 280)
	v.SetDefault("x.publish_timeout", "15s")
	v.SetDefault("x.refresh_timeout", "10s")

	v.SetDefault("pipeline.auto_publish", false)
}

func fromViper(v *viper.Viper) AppConfig {
	listenAddr := strings.TrimSpace(v.GetString("listen_addr"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", strings.TrimSpace(v.GetString("port")))
	}

	siteBaseURL := strings.TrimRight(strings.TrimSpace(v.GetString("site_base_url")), "/")
	redirectURL := strings.TrimSpace(v.GetString("x.redirect_url"))
	if redirectURL == "" {
		redirectURL = siteBaseURL + "/oauth/x/callback"
	}

	templates := make(map[string]string)
	for key, value := range v.GetStringMapString("templates") {
		templates[strings.ToLower(strings.TrimSpace(key))] = value
	}

	return AppConfig{
		ListenAddr:        listenAddr,
		DatabasePath:      strings.TrimSpace(v.GetString("database_path")),
		SessionSecret:     strings.TrimSpace(v.GetString("session_secret")),
		GinMode:           strings.TrimSpace(v.GetString("gin_mode")),
		SuperRootUserName: strings.TrimSpace(v.GetString("super_root_user_name")),
		SuperRootPassword: strings.TrimSpace(v.GetString("super_root_password")),
		SiteBaseURL:       siteBaseURL,
		Log: LogConfig{
			Level:  strings.ToLower(strings.TrimSpace(v.GetString("log.level"))),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("log.format"))),
		},
		Webhook: WebhookConfig{
			Secret:           strings.TrimSpace(v.GetString("webhook.secret")),
			AllowUnsigned:    v.GetBool("webhook.allow_unsigned"),
			Repositories:     splitList(v.GetStringSlice("webhook.repositories")),
			Branches:         splitList(v.GetStringSlice("webhook.branches")),
			ExcludePaths:     splitList(v.GetStringSlice("webhook.exclude_paths")),
			MinMessageLength: v.GetInt("webhook.min_message_length"),
			SkipMerges:       v.GetBool("webhook.skip_merges"),
		},
		AI: AIConfig{
			Provider:        strings.ToLower(strings.TrimSpace(v.GetString("ai.provider"))),
			OpenAIAPIKey:    strings.TrimSpace(v.GetString("ai.openai_api_key")),
			OpenAIBaseURL:   strings.TrimSpace(v.GetString("ai.openai_base_url")),
			OpenAIModel:     strings.TrimSpace(v.GetString("ai.openai_model")),
			DeepSeekAPIKey:  strings.TrimSpace(v.GetString("ai.deepseek_api_key")),
			DeepSeekBaseURL: strings.TrimSpace(v.GetString("ai.deepseek_base_url")),
			DeepSeekModel:   strings.TrimSpace(v.GetString("ai.deepseek_model")),
			Tone:            strings.ToLower(strings.TrimSpace(v.GetString("ai.tone"))),
			Timeout:         v.GetDuration("ai.timeout"),
		},
		X: XConfig{
			ClientID:       strings.TrimSpace(v.GetString("x.client_id")),
			ClientSecret:   strings.TrimSpace(v.GetString("x.client_secret")),
			RedirectURL:    redirectURL,
			AuthURL:        strings.TrimSpace(v.GetString("x.auth_url")),
			TokenURL:       strings.TrimSpace(v.GetString("x.token_url")),
			APIBaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString("x.api_base_url")), "/"),
			AccountID:      strings.TrimSpace(v.GetString("x.account_id")),
			CharLimit:      v.GetInt("x.char_limit"),
			PublishTimeout: v.GetDuration("x.publish_timeout"),
			RefreshTimeout: v.GetDuration("x.refresh_timeout"),
		},
		Pipeline: PipelineConfig{
			AutoPublish: v.GetBool("pipeline.auto_publish"),
		},
		Templates: templates,
	}
}

// Validate 检查无法在运行期恢复的配置错误。
func (c AppConfig) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.X.CharLimit <= 0 {
		return fmt.Errorf("X_CHAR_LIMIT must be positive, got %d", c.X.CharLimit)
	}
	if c.AI.Timeout <= 0 || c.X.PublishTimeout <= 0 || c.X.RefreshTimeout <= 0 {
		return errors.New("outbound call timeouts must be positive")
	}
	if c.Webhook.MinMessageLength < 0 {
		return errors.New("WEBHOOK_MIN_MESSAGE_LENGTH must not be negative")
	}
	for key, tmpl := range c.Templates {
		if strings.Count(tmpl, "{content}") != 1 {
			return fmt.Errorf("template %q must contain the {content} placeholder exactly once", key)
		}
	}
	return nil
}

// splitList 兼容环境变量里逗号分隔的写法，例如 WEBHOOK_BRANCHES="main,release/*"。
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
