package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	Port            string        `mapstructure:"PORT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	AdminKey        string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed     string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CacheDir        string        `mapstructure:"CACHE_DIR"`
	CacheCompress   string        `mapstructure:"CACHE_COMPRESSION"`
	SettingsFile    string        `mapstructure:"SETTINGS_FILE"`
	TicketsFile     string        `mapstructure:"TICKETS_FILE"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	AIURL           string        `mapstructure:"AI_URL"`
	AssistantURL    string        `mapstructure:"ASSISTANT_BASE_URL"`
	AssistantModel  string        `mapstructure:"ASSISTANT_MODEL"`
	AssistantAPIKey string        `mapstructure:"ASSISTANT_API_KEY"`
	StaleMaxAge     time.Duration `mapstructure:"STALE_MAX_AGE"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CACHE_DIR", ".ftex_cache")
	v.SetDefault("CACHE_COMPRESSION", "none")
	v.SetDefault("SETTINGS_FILE", "settings.yaml")
	v.SetDefault("TICKETS_FILE", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("AI_URL", "")
	v.SetDefault("ASSISTANT_BASE_URL", "")
	v.SetDefault("ASSISTANT_MODEL", "")
	v.SetDefault("ASSISTANT_API_KEY", "")
	v.SetDefault("STALE_MAX_AGE", "24h")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
