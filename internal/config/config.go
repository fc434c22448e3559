package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	DB          struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Storage struct {
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		Bucket          string `mapstructure:"bucket"`
		UseSSL          bool   `mapstructure:"use_ssl"`
		PublicBaseURL   string `mapstructure:"public_base_url"`
	} `mapstructure:"storage"`
	Gemini struct {
		APIKey  string   `mapstructure:"api_key"`
		BaseURL string   `mapstructure:"base_url"`
		Models  []string `mapstructure:"models"`
	} `mapstructure:"gemini"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Analysis  struct {
		MaxFrames int `mapstructure:"max_frames"`
		Workers   int `mapstructure:"workers"`
	} `mapstructure:"analysis"`
	Auth struct {
		Issuer        string `mapstructure:"issuer"`
		ClientID      string `mapstructure:"client_id"`
		ClientSecret  string `mapstructure:"client_secret"`
		RedirectURL   string `mapstructure:"redirect_url"`
		DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	} `mapstructure:"auth"`
}

// RateLimitConfig is loaded once at startup and passed into the rate
// limiter; the limiter never re-reads the environment.
type RateLimitConfig struct {
	MaxDailyRequests int    `mapstructure:"max_daily_requests"`
	ResetHourUTC     int    `mapstructure:"reset_hour_utc"`
	Message          string `mapstructure:"message"`
}

// LoadConfig loads the configuration from an optional .env file, a yaml
// config file, and the environment.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, err
		}
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("environment", "dev")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("storage.bucket", "synchro-videos")
	viper.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("gemini.models", []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"})
	viper.SetDefault("rate_limit.max_daily_requests", 3)
	viper.SetDefault("rate_limit.reset_hour_utc", 0)
	viper.SetDefault("rate_limit.message", "Daily analysis limit reached. Try again after the reset.")
	viper.SetDefault("analysis.max_frames", 8)
	viper.SetDefault("analysis.workers", 4)

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; everything can come from the env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)

	return &config, nil
}

// normalizeIssuer ensures the provided OIDC issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact, so users can paste the full URL from their provider's admin
// console.
func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
