package snapengine

import (
	_ "github.com/joho/godotenv/autoload"
	"github.com/nasermirzaei89/env"
)

type Config struct {
	// Endpoints is the ordered list of equivalent Hive API endpoints.
	Endpoints []string

	// Community is the community identifier used for the tag filter and the
	// muted-subscriber listing.
	Community string

	// FeedAccount is the account whose posts act as snap containers.
	FeedAccount string

	// DurableDSN is the sqlite DSN for the durable local store.
	DurableDSN string

	ReputationThreshold float64
	ImageProxyPrefix    string
	FrontendHosts       []string
}

func (cfg *Config) applyDefaults() {
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = defaultEndpoints()
	}

	if cfg.Community == "" {
		cfg.Community = "hive-139531"
	}

	if cfg.FeedAccount == "" {
		cfg.FeedAccount = "peak.snaps"
	}

	if cfg.DurableDSN == "" {
		cfg.DurableDSN = "file:snapengine.db"
	}

	if cfg.ReputationThreshold == 0 {
		cfg.ReputationThreshold = 25
	}
}

func defaultEndpoints() []string {
	return []string{
		"https://api.hive.blog",
		"https://api.deathwing.me",
		"https://anyx.io",
		"https://api.openhive.network",
	}
}

// ConfigFromEnv reads configuration the same way the rest of the deployment
// does, with working defaults for every value.
func ConfigFromEnv() Config {
	return Config{
		Endpoints:           env.GetStringSlice("HIVE_ENDPOINTS", defaultEndpoints()),
		Community:           env.GetString("SNAPS_COMMUNITY", "hive-139531"),
		FeedAccount:         env.GetString("SNAPS_FEED_ACCOUNT", "peak.snaps"),
		DurableDSN:          env.GetString("SNAPS_DB_DSN", "file:snapengine.db"),
		ReputationThreshold: env.GetFloat64("SNAPS_MIN_REPUTATION", 25),
		ImageProxyPrefix:    env.GetString("SNAPS_IMAGE_PROXY", ""),
		FrontendHosts:       env.GetStringSlice("SNAPS_FRONTEND_HOSTS", nil),
	}
}
