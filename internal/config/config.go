/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the settlement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	EventExchange             string `mapstructure:"EVENT_EXCHANGE"`
	BankAPIBaseURL            string `mapstructure:"BANK_API_BASE_URL"`
	BankAPIKey                string `mapstructure:"BANK_API_KEY"`
	WebhookSecret             string `mapstructure:"WEBHOOK_SECRET"`
	WebhookBearerToken        string `mapstructure:"WEBHOOK_BEARER_TOKEN"`
	WebhookEnforceAuth        bool   `mapstructure:"WEBHOOK_ENFORCE_AUTH"`
	WebhookRateLimitPerMinute int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
	APIJWTSecret              string `mapstructure:"API_JWT_SECRET"`
	AllowedOrigins            string `mapstructure:"ALLOWED_ORIGINS"`
	DefaultCurrency           string `mapstructure:"DEFAULT_CURRENCY"`
	CollectionExpiryMinutes   int    `mapstructure:"COLLECTION_EXPIRY_MINUTES"`
	PayoutCallTimeoutSeconds  int    `mapstructure:"PAYOUT_CALL_TIMEOUT_SECONDS"`
	ReconcileSchedule         string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileWindowDays       int    `mapstructure:"RECONCILE_WINDOW_DAYS"`
	ReconcileBatchLimit       int    `mapstructure:"RECONCILE_BATCH_LIMIT"`
	CollectionAgeAlertMinutes int    `mapstructure:"COLLECTION_AGE_ALERT_MINUTES"`
	PayoutAgeAlertMinutes     int    `mapstructure:"PAYOUT_AGE_ALERT_MINUTES"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "capnpay:rate_limit")
	viper.SetDefault("EVENT_EXCHANGE", "capnpay.events")
	viper.SetDefault("WEBHOOK_ENFORCE_AUTH", true)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 600)
	viper.SetDefault("DEFAULT_CURRENCY", "INR")
	viper.SetDefault("COLLECTION_EXPIRY_MINUTES", 30)
	viper.SetDefault("PAYOUT_CALL_TIMEOUT_SECONDS", 10)
	viper.SetDefault("RECONCILE_SCHEDULE", "0 * * * *")
	viper.SetDefault("RECONCILE_WINDOW_DAYS", 7)
	viper.SetDefault("RECONCILE_BATCH_LIMIT", 500)
	viper.SetDefault("COLLECTION_AGE_ALERT_MINUTES", 120)
	viper.SetDefault("PAYOUT_AGE_ALERT_MINUTES", 240)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SETTLEMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("BANK_API_BASE_URL")
	_ = viper.BindEnv("BANK_API_KEY")
	_ = viper.BindEnv("WEBHOOK_SECRET")
	_ = viper.BindEnv("WEBHOOK_BEARER_TOKEN")
	_ = viper.BindEnv("WEBHOOK_ENFORCE_AUTH")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("API_JWT_SECRET")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("COLLECTION_EXPIRY_MINUTES")
	_ = viper.BindEnv("PAYOUT_CALL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_WINDOW_DAYS")
	_ = viper.BindEnv("RECONCILE_BATCH_LIMIT")
	_ = viper.BindEnv("COLLECTION_AGE_ALERT_MINUTES")
	_ = viper.BindEnv("PAYOUT_AGE_ALERT_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "capnpay:rate_limit"
	}
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "INR"
	}

	if config.WebhookRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative webhook rate limit configured; disabling limiter\" limit=%d", config.WebhookRateLimitPerMinute)
		config.WebhookRateLimitPerMinute = 0
	}
	if config.CollectionExpiryMinutes <= 0 {
		config.CollectionExpiryMinutes = 30
	}
	if config.PayoutCallTimeoutSeconds <= 0 {
		config.PayoutCallTimeoutSeconds = 10
	}
	if strings.TrimSpace(config.ReconcileSchedule) == "" {
		config.ReconcileSchedule = "0 * * * *"
	}
	if config.ReconcileWindowDays <= 0 {
		config.ReconcileWindowDays = 7
	}
	if config.ReconcileBatchLimit <= 0 {
		config.ReconcileBatchLimit = 500
	}
	if config.CollectionAgeAlertMinutes <= 0 {
		config.CollectionAgeAlertMinutes = 120
	}
	if config.PayoutAgeAlertMinutes <= 0 {
		config.PayoutAgeAlertMinutes = 240
	}

	return
}

// Origins splits the comma-separated ALLOWED_ORIGINS value into a slice,
// dropping empty entries.
func (c Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
