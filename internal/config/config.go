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

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	PartnerStatusQueue   string `mapstructure:"PARTNER_STATUS_QUEUE"`
	PartnerAPIBaseURL    string `mapstructure:"PARTNER_API_BASE_URL"`
	PartnerAPIKey        string `mapstructure:"PARTNER_API_KEY"`
	PartnerBankName      string `mapstructure:"PARTNER_BANK_NAME"`
	AuthJWKSURL          string `mapstructure:"AUTH_JWKS_URL"`
	IAMServiceURL        string `mapstructure:"IAM_SERVICE_URL"`
	IAMServiceAPIKey     string `mapstructure:"IAM_SERVICE_API_KEY"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`
	// Cron expressions for the scheduled jobs.
	ExpirySweepSchedule    string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`
	MonthlyAccrualSchedule string `mapstructure:"MONTHLY_ACCRUAL_SCHEDULE"`
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
	viper.SetDefault("PARTNER_STATUS_QUEUE", "ledger_service.partner_status_updates")
	viper.SetDefault("PARTNER_BANK_NAME", "Pathward")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "rosstax:rate_limit")
	// Nightly at 02:15 for the pending-transfer sweep; first of the month at
	// 03:00 for interest and fees.
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "15 2 * * *")
	viper.SetDefault("MONTHLY_ACCRUAL_SCHEDULE", "0 3 1 * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PARTNER_STATUS_QUEUE")
	_ = viper.BindEnv("PARTNER_API_BASE_URL")
	_ = viper.BindEnv("PARTNER_API_KEY")
	_ = viper.BindEnv("PARTNER_BANK_NAME")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("IAM_SERVICE_URL")
	_ = viper.BindEnv("IAM_SERVICE_API_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("EXPIRY_SWEEP_SCHEDULE")
	_ = viper.BindEnv("MONTHLY_ACCRUAL_SCHEDULE")

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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LEDGER_SERVICE_INTERNAL_API_KEY"))
	}
	config.IAMServiceAPIKey = strings.TrimSpace(config.IAMServiceAPIKey)
	if config.IAMServiceAPIKey == "" {
		config.IAMServiceAPIKey = config.InternalAPIKey
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "rosstax:rate_limit"
	}
	config.PartnerBankName = strings.TrimSpace(config.PartnerBankName)
	if config.PartnerBankName == "" {
		config.PartnerBankName = "Pathward"
	}

	return
}
