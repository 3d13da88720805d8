package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "CORKBOARD"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "corkboard.db"
	defaultLogLevel      = "info"
	defaultPresenceTTL   = 45
	defaultReactionKinds = "thumbs-up,heart,fire,celebrate,laugh,question"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	PresenceTTL   time.Duration
	RedisAddress  string
	ReactionKinds []string
	CORSOrigins   []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("presence.ttl_seconds", defaultPresenceTTL)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("reactions.kinds", defaultReactionKinds)
	configViper.SetDefault("cors.origins", "*")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		PresenceTTL:   time.Duration(configViper.GetInt("presence.ttl_seconds")) * time.Second,
		RedisAddress:  strings.TrimSpace(configViper.GetString("redis.address")),
		ReactionKinds: splitList(configViper.GetString("reactions.kinds")),
		CORSOrigins:   splitList(configViper.GetString("cors.origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PresenceTTL <= 0 {
		return fmt.Errorf("presence.ttl_seconds must be positive")
	}
	if len(c.ReactionKinds) == 0 {
		return fmt.Errorf("reactions.kinds must list at least one kind")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
