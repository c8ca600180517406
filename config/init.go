package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/mailcove/mailcove/internal/logger"
	"github.com/mailcove/mailcove/internal/tracing"
)

type Config struct {
	AppConfig   *AppConfig
	Logger      *logger.Config
	Tracing     *tracing.JaegerConfig
	CacheConfig *CacheConfig
	OAuthConfig *OAuthConfig
	SyncConfig  *SyncConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:   &AppConfig{},
		Logger:      &logger.Config{},
		Tracing:     &tracing.JaegerConfig{},
		CacheConfig: &CacheConfig{},
		OAuthConfig: &OAuthConfig{},
		SyncConfig:  &SyncConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading mailcove config: %v", err)
	}

	return config, nil
}
