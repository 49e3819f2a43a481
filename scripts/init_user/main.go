package main

import (
	"fmt"
	"log"
	"os"

	"github.com/source2social/internal/db"
	"github.com/spf13/pflag"
	"gorm.io/gorm/logger"
)

func main() {
	dbPath := pflag.String("db", "source2social.db", "sqlite db path")
	username := pflag.String("username", "admin", "admin username")
	password := pflag.String("password", "", "admin password (required)")
	pflag.Parse()

	if *password == "" {
		fmt.Fprintln(os.Stderr, "--password is required")
		os.Exit(2)
	}

	// 初始化数据库
	if err := db.Init(*dbPath, logger.Warn); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	// 检查是否已存在用户
	var count int64
	db.DB.Model(&db.User{}).Where("username = ?", *username).Count(&count)
	if count > 0 {
		fmt.Println("用户已存在，无需初始化")
		return
	}

	if err := db.EnsureUser(db.DB, *username, *password); err != nil {
		log.Fatal("创建用户失败:", err)
	}

	fmt.Println("管理员用户创建成功")
	fmt.Println("用户名:", *username)
}
