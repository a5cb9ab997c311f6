package config

import (
	"os"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"

	"github.com/dhakir-app/dhakir/utils"
)

type Config struct {
	Dhakir   DhakirConfig
	Registry RegistryConfig
	Playback PlaybackConfig
}

type DhakirConfig struct {
	BackgroundJobsEnabled bool   `env:"BACKGROUND_JOBS_ENABLED"`
	BindAddress           string `env:"BIND_ADDRESS"`
	DbPath                string `env:"DB_PATH"`
	LogLevel              string `env:"LOG_LEVEL"`
	StorageDir            string `env:"STORAGE_DIR"`
	AdminSecret           string `env:"ADMIN_SECRET"`
}

type RegistryConfig struct {
	CatalogURL string `env:"CATALOG_URL"`
	Locale     string `env:"LOCALE"`
}

type PlaybackConfig struct {
	PrefetchCount  int `env:"PREFETCH_COUNT"`
	LoadTimeoutSec int `env:"LOAD_TIMEOUT_SEC"`
}

func Load() (Config, error) {
	cfg := Config{
		Dhakir: DhakirConfig{
			BackgroundJobsEnabled: true,
			BindAddress:           ":8080",
			DbPath:                "dhakir.db",
			LogLevel:              "info",
			StorageDir:            "/tmp/dhakir",
		},
		Registry: RegistryConfig{
			Locale: "ar",
		},
		Playback: PlaybackConfig{
			PrefetchCount:  3,
			LoadTimeoutSec: 15,
		},
	}

	// The env file location itself has to resolve before any feeder runs.
	envFile := utils.GetEnv("ENV_FILE", ".env")

	c := config.New()
	if _, err := os.Stat(envFile); err == nil {
		c.AddFeeder(feeder.DotEnv{Path: envFile})
	}
	c.AddFeeder(feeder.Env{})
	c.AddStruct(&cfg)

	if err := c.Feed(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
