package handler

import (
	"fmt"
	"log/slog"

	"github.com/source2social/internal/config"
	"github.com/source2social/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db        *gorm.DB
	posts     *service.PostService
	publisher *service.Publisher
	pipeline  *service.Pipeline
	verifier  *service.SignatureVerifier
	vault     *service.TokenVault
	oauth     *service.OAuthService
	logger    *slog.Logger
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, cfg config.AppConfig, logger *slog.Logger) (*API, error) {
	if logger == nil {
		logger = slog.Default()
	}

	templates, err := service.NewTemplateSet(cfg.Templates)
	if err != nil {
		return nil, fmt.Errorf("load post templates: %w", err)
	}

	posts := service.NewPostService(gdb, cfg.X.CharLimit)
	oauth := service.NewOAuthService(cfg.X)
	vault := service.NewTokenVault(gdb, oauth, cfg.X.RefreshTimeout, logger.With("component", "token_vault"))
	xClient := service.NewXClient(cfg.X.APIBaseURL, cfg.X.PublishTimeout)
	publisher := service.NewPublisher(posts, vault, xClient, cfg.X.AccountID, logger.With("component", "publisher"))

	extractor := service.NewCommitExtractor(service.ExtractorConfig{
		Repositories:     cfg.Webhook.Repositories,
		Branches:         cfg.Webhook.Branches,
		ExcludePaths:     cfg.Webhook.ExcludePaths,
		MinMessageLength: cfg.Webhook.MinMessageLength,
		SkipMerges:       cfg.Webhook.SkipMerges,
	}, posts, logger.With("component", "extractor"))
	generator := service.NewContentGenerator(cfg.AI, templates, cfg.X.CharLimit, logger.With("component", "generator"))
	pipeline := service.NewPipeline(extractor, generator, posts, publisher, service.PipelineOptions{
		AutoPublish:   cfg.Pipeline.AutoPublish,
		CommitTimeout: cfg.AI.Timeout,
	}, logger.With("component", "pipeline"))

	return &API{
		db:        gdb,
		posts:     posts,
		publisher: publisher,
		pipeline:  pipeline,
		verifier:  service.NewSignatureVerifier(cfg.Webhook.Secret, cfg.Webhook.AllowUnsigned, logger.With("component", "webhook")),
		vault:     vault,
		oauth:     oauth,
		logger:    logger,
	}, nil
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}
