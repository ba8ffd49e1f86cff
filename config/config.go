package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling and env variable binding.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"` // empty selects the in-memory session store
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	// Token signing
	JWTSecretKey        string `mapstructure:"JWT_SECRET_KEY"`
	JWTKeyID            string `mapstructure:"JWT_KEY_ID"`
	AccessTokenTTLMin   int    `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTokenTTLHour int    `mapstructure:"REFRESH_TOKEN_TTL_HOUR"`

	// Social login providers. A provider with an empty client id stays
	// unregistered.
	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`
	GitHubClientID     string `mapstructure:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `mapstructure:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL  string `mapstructure:"GITHUB_REDIRECT_URL"`

	// FederationLinkByEmail attaches a federated identity to an existing
	// account with the same verified email instead of reporting a conflict.
	FederationLinkByEmail bool `mapstructure:"FEDERATION_LINK_BY_EMAIL"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/authcore/")
	v.AddConfigPath("$HOME/.authcore")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/authcore_dev")
	v.SetDefault("MONGO_DB_NAME", "authcore_dev")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("JWT_SECRET_KEY", "a_very_secret_jwt_key_change_me") // CHANGE IN PRODUCTION
	v.SetDefault("JWT_KEY_ID", "primary")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 60)    // 1 hour
	v.SetDefault("REFRESH_TOKEN_TTL_HOUR", 720) // 30 days
	v.SetDefault("FEDERATION_LINK_BY_EMAIL", false)

	if err := v.ReadInConfig(); err != nil {
		// Running on defaults and env vars alone is fine; only a broken
		// config file is an error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
