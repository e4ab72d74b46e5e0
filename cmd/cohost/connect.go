package main

import (
	"fmt"

	"github.com/zulandar/cohost/internal/app"
	"github.com/zulandar/cohost/internal/config"
	"github.com/zulandar/cohost/internal/db"
	"gorm.io/gorm"
)

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}

	return cfg, gormDB, nil
}

// openApp loads config, connects, migrates and composes the services.
func openApp(configPath string) (*app.App, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return app.NewWithDB(cfg, gormDB)
}
