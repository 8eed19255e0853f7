package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	AssetDir                  string
	DatabaseBusyTimeout       time.Duration
	DatabaseConnectRetryCount int
	DatabaseConnectRetryDelay time.Duration
	DatabaseDebug             bool
	DatabaseFilePath          string
	DatabaseMaxRetries        int
	DownloadConcurrency       int
	DownloadTimeout           time.Duration
	Hostname                  string
	MinSupportedSchemaVersion int
	OutboxBaseBackoff         time.Duration
	OutboxMaxAttempts         int
	OutboxMaxBackoff          time.Duration
	RemoteBaseURL             string
	ServerHost                string
	ServerPort                int
	SyncInterval              time.Duration
	SyncOutboxDrainLimit      int
}

const environmentENV = "ENVIRONMENT"

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        3,
		DownloadConcurrency:       4,
		DownloadTimeout:           60 * time.Second,
		Hostname:                  hostname,
		MinSupportedSchemaVersion: 1,
		OutboxBaseBackoff:         2 * time.Second,
		OutboxMaxAttempts:         8,
		OutboxMaxBackoff:          10 * time.Minute,
		ServerPort:                3690,
		SyncInterval:              15 * time.Minute,
		SyncOutboxDrainLimit:      25,
	}

	switch os.Getenv(environmentENV) {
	case "development", "":
		loadDevelopmentConfig(cfg)
	case "test":
		loadTestConfig(cfg)
	case "production":
		loadProductionConfig(cfg)
	}

	return cfg, nil
}
