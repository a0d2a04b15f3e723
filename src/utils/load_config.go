package utils

import (
	"fmt"
	"os"
)

type AppConfig struct {
	BotToken      string
	ApplicationID string
	APIAddress    string
	LogLevel      string
	AppEnv        string
}

// LoadConfiguration reads the application configuration from the
// environment. godotenv is loaded by main before this runs.
func LoadConfiguration() (AppConfig, error) {
	cfg := AppConfig{}
	requiredEnv := map[string]*string{
		"KLAXON_BOT_TOKEN":      &cfg.BotToken,
		"KLAXON_APPLICATION_ID": &cfg.ApplicationID,
		"API_ADDRESS":           &cfg.APIAddress,
	}
	for k, v := range requiredEnv {
		val, ok := os.LookupEnv(k)
		if !ok || val == "" {
			return AppConfig{}, fmt.Errorf("missing required environment variable: %s", k)
		}
		*v = val
	}
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	cfg.AppEnv = os.Getenv("APP_ENV")
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	return cfg, nil
}
