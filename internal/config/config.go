/**
 * @description
 * Configuration management for the payout service. Values come from environment
 * variables, optionally seeded from a .env file in the given path.
 *
 * @dependencies
 * - github.com/spf13/viper: environment binding and defaults.
 * - github.com/shopspring/decimal: currency amounts given in whole units.
 */
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the payout service.
type Config struct {
	ServerPort                    string  `mapstructure:"SERVER_PORT"`
	DatabaseURL                   string  `mapstructure:"DATABASE_URL"`
	RedisURL                      string  `mapstructure:"REDIS_URL"`
	RedisLockPrefix               string  `mapstructure:"REDIS_LOCK_PREFIX"`
	RabbitMQURL                   string  `mapstructure:"RABBITMQ_URL"`
	EventExchange                 string  `mapstructure:"EVENT_EXCHANGE"`
	PaymentEventQueue             string  `mapstructure:"PAYMENT_EVENT_QUEUE"`
	ClerkJWKSURL                  string  `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey                string  `mapstructure:"INTERNAL_API_KEY"`
	BillingServiceURL             string  `mapstructure:"BILLING_SERVICE_URL"`
	BillingServiceInternalAPIKey  string  `mapstructure:"BILLING_SERVICE_INTERNAL_API_KEY"`
	DocumentServiceURL            string  `mapstructure:"DOCUMENT_SERVICE_URL"`
	DocumentServiceAPIKey         string  `mapstructure:"DOCUMENT_SERVICE_API_KEY"`
	BankDetailsEncryptionKey      string  `mapstructure:"BANK_DETAILS_ENCRYPTION_KEY"`
	ProgramLaunchDateRaw          string  `mapstructure:"PROGRAM_LAUNCH_DATE"`
	AgeThresholdMonths            float64 `mapstructure:"AGE_THRESHOLD_MONTHS"`
	PayoutCurrency                string  `mapstructure:"PAYOUT_CURRENCY"`
	AutoSelectWinners             bool    `mapstructure:"AUTO_SELECT_WINNERS"`
	EligibilityJobSchedule        string  `mapstructure:"ELIGIBILITY_JOB_SCHEDULE"`
	RemovalJobSchedule            string  `mapstructure:"REMOVAL_JOB_SCHEDULE"`
	EligibilityCheckRatePerMinute int     `mapstructure:"ELIGIBILITY_CHECK_RATE_PER_MINUTE"`

	// Derived in minor units from the whole-unit env values.
	ProgramLaunchDate time.Time `mapstructure:"-"`
	RevenueThreshold  int64     `mapstructure:"-"`
	PayoutAmount      int64     `mapstructure:"-"`
	RetentionFee      int64     `mapstructure:"-"`
	ApprovalThreshold int64     `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables, with an optional .env in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_LOCK_PREFIX", "tenure:payout_jobs")
	viper.SetDefault("EVENT_EXCHANGE", "tenure.events")
	viper.SetDefault("PAYMENT_EVENT_QUEUE", "payout_service.payment_updates")
	viper.SetDefault("AGE_THRESHOLD_MONTHS", 12)
	viper.SetDefault("REVENUE_THRESHOLD", "100000")
	viper.SetDefault("PAYOUT_AMOUNT", "100000")
	viper.SetDefault("RETENTION_FEE", "300")
	viper.SetDefault("APPROVAL_THRESHOLD", "100000")
	viper.SetDefault("PAYOUT_CURRENCY", "USD")
	viper.SetDefault("AUTO_SELECT_WINNERS", true)
	viper.SetDefault("ELIGIBILITY_JOB_SCHEDULE", "0 2 * * *")
	viper.SetDefault("REMOVAL_JOB_SCHEDULE", "30 2 * * *")
	viper.SetDefault("ELIGIBILITY_CHECK_RATE_PER_MINUTE", 6)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYOUT_REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("PAYMENT_EVENT_QUEUE")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYOUT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("BILLING_SERVICE_URL")
	_ = viper.BindEnv("BILLING_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DOCUMENT_SERVICE_URL")
	_ = viper.BindEnv("DOCUMENT_SERVICE_API_KEY")
	_ = viper.BindEnv("BANK_DETAILS_ENCRYPTION_KEY")
	_ = viper.BindEnv("PROGRAM_LAUNCH_DATE")
	_ = viper.BindEnv("REVENUE_THRESHOLD")
	_ = viper.BindEnv("AGE_THRESHOLD_MONTHS")
	_ = viper.BindEnv("PAYOUT_AMOUNT")
	_ = viper.BindEnv("PAYOUT_CURRENCY")
	_ = viper.BindEnv("RETENTION_FEE")
	_ = viper.BindEnv("APPROVAL_THRESHOLD")
	_ = viper.BindEnv("AUTO_SELECT_WINNERS")
	_ = viper.BindEnv("ELIGIBILITY_JOB_SCHEDULE")
	_ = viper.BindEnv("REMOVAL_JOB_SCHEDULE")
	_ = viper.BindEnv("ELIGIBILITY_CHECK_RATE_PER_MINUTE")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.BillingServiceInternalAPIKey = strings.TrimSpace(config.BillingServiceInternalAPIKey)
	if config.BillingServiceInternalAPIKey == "" {
		config.BillingServiceInternalAPIKey = config.InternalAPIKey
	}
	config.DocumentServiceAPIKey = strings.TrimSpace(config.DocumentServiceAPIKey)
	if config.DocumentServiceAPIKey == "" {
		config.DocumentServiceAPIKey = config.InternalAPIKey
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisLockPrefix = strings.TrimSpace(config.RedisLockPrefix)
	if config.RedisLockPrefix == "" {
		config.RedisLockPrefix = "tenure:payout_jobs"
	}
	config.PayoutCurrency = strings.ToUpper(strings.TrimSpace(config.PayoutCurrency))

	if config.RevenueThreshold, err = minorUnits("REVENUE_THRESHOLD"); err != nil {
		return
	}
	if config.PayoutAmount, err = minorUnits("PAYOUT_AMOUNT"); err != nil {
		return
	}
	if config.RetentionFee, err = minorUnits("RETENTION_FEE"); err != nil {
		return
	}
	if config.ApprovalThreshold, err = minorUnits("APPROVAL_THRESHOLD"); err != nil {
		return
	}

	if raw := strings.TrimSpace(config.ProgramLaunchDateRaw); raw != "" {
		if config.ProgramLaunchDate, err = parseLaunchDate(raw); err != nil {
			return
		}
	}

	err = config.validate()
	return
}

func (c Config) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"CLERK_JWKS_URL", c.ClerkJWKSURL},
		{"INTERNAL_API_KEY", c.InternalAPIKey},
		{"BILLING_SERVICE_URL", c.BillingServiceURL},
		{"DOCUMENT_SERVICE_URL", c.DocumentServiceURL},
		{"BANK_DETAILS_ENCRYPTION_KEY", c.BankDetailsEncryptionKey},
		{"PROGRAM_LAUNCH_DATE", c.ProgramLaunchDateRaw},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s environment variable is required", r.name)
		}
	}
	if c.PayoutAmount <= 0 {
		return errors.New("PAYOUT_AMOUNT must be greater than zero")
	}
	if c.RetentionFee < 0 || c.RetentionFee >= c.PayoutAmount {
		return errors.New("RETENTION_FEE must be non-negative and below PAYOUT_AMOUNT")
	}
	if c.AgeThresholdMonths < 0 {
		return errors.New("AGE_THRESHOLD_MONTHS must not be negative")
	}
	if c.EligibilityCheckRatePerMinute <= 0 {
		return errors.New("ELIGIBILITY_CHECK_RATE_PER_MINUTE must be greater than zero")
	}
	return nil
}

// minorUnits converts a whole-unit amount such as "100000" or "300.50" to cents.
func minorUnits(key string) (int64, error) {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return 0, nil
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return amount.Shift(2).Round(0).IntPart(), nil
}

func parseLaunchDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid PROGRAM_LAUNCH_DATE %q: expected YYYY-MM-DD or RFC3339", raw)
	}
	return t.UTC(), nil
}
