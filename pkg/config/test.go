package config

import "time"

func loadTestConfig(cfg *Config) {
	cfg.AssetDir = "./tmp/test-assets"
	cfg.DatabaseFilePath = ":memory:"
	cfg.OutboxBaseBackoff = 10 * time.Millisecond
	cfg.OutboxMaxBackoff = 100 * time.Millisecond
	cfg.RemoteBaseURL = "http://localhost:0"
	cfg.ServerHost = "127.0.0.1"
	cfg.ServerPort = 0
	cfg.SyncInterval = time.Minute
}
