// Package store 负责建立会话存储连接、迁移表结构并装配 Repository
package store

import (
	"fmt"

	"chatty_session_server/internal/config"
	"chatty_session_server/internal/dao/repository"
	"chatty_session_server/internal/model"

	"go.uber.org/zap"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Init 按 driver 打开数据库、迁移表结构，返回 Repository 集合
func Init(cfg config.StoreConfig) (*repository.Repositories, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err = Migrate(db); err != nil {
		return nil, err
	}
	zap.L().Info("store initialized", zap.String("driver", cfg.Driver), zap.String("database", cfg.DatabaseName))
	return repository.NewRepositories(db), nil
}

func dialectorFor(cfg config.StoreConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.PostgresDSN()), nil
	case "mysql":
		return mysqldriver.Open(cfg.MysqlDSN()), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Migrate 自动迁移表结构；租户相关表由控制台维护，这里只保证存在
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Session{},
		&model.Message{},
		&model.Chatbot{},
		&model.Product{},
		&model.KnowledgeDocument{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
