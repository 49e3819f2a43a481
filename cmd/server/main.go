package main

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/source2social/internal/config"
	"github.com/source2social/internal/db"
	"github.com/source2social/internal/handler"
	"github.com/source2social/internal/logging"
	"github.com/source2social/internal/router"
	"gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log)
	slog.SetDefault(log)

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	// 初始化数据库
	gormLevel := logger.Warn
	if cfg.Log.Level == "debug" {
		gormLevel = logger.Info
	}
	if err := db.Init(cfg.DatabasePath, gormLevel); err != nil {
		log.Error("failed to initialize database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	if err := db.EnsureUser(db.DB, cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		log.Error("failed to ensure admin user", "error", err)
		os.Exit(1)
	}

	api, err := handler.NewAPI(db.DB, cfg, log)
	if err != nil {
		log.Error("failed to build api", "error", err)
		os.Exit(1)
	}

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(cfg.SessionSecret, api)
	log.Info("server listening", "addr", cfg.ListenAddr, "auto_publish", cfg.Pipeline.AutoPublish)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}
