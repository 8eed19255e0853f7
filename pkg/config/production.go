package config

import "os"

func loadProductionConfig(cfg *Config) {
	dataDir := os.Getenv("DATA_DIRECTORY")
	if dataDir == "" {
		dataDir = "/data"
	}

	cfg.AssetDir = dataDir + "/assets"
	cfg.DatabaseFilePath = dataDir + "/cache.sqlite"
	cfg.RemoteBaseURL = os.Getenv("REMOTE_BASE_URL")
	cfg.ServerHost = "0.0.0.0"
}
