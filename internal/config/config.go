package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	LogFile  string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS / SQS
	AWSRegion          string
	SQSRegion          string
	SQSEventsQueueURL  string // delivery events are published here when set
	SQSInboundQueueURL string // send requests from other portal services are read from here when set

	SMS      SMSConfig
	Dispatch DispatchConfig
	Alerts   AlertsConfig

	APIRateLimit int // requests per minute per client IP
}

// SMSConfig configures the gateway client and its transport.
type SMSConfig struct {
	Transport string // "http" or "sns"; empty leaves the gateway unconfigured

	APIURL    string
	APIKey    string
	APISecret string
	Source    string

	SNSRegion string
	SNSPrice  float64 // SNS does not report a price; this is recorded per sent message

	Timeout time.Duration

	DailyLimit     int
	RestrictedMode bool
	AllowedNumbers []string
	Timezone       string
}

// DispatchConfig configures the retry and bulk coordinator.
type DispatchConfig struct {
	BulkSendDelay      time.Duration
	RetrySweepInterval time.Duration
	RetryBackoffBase   time.Duration
	MaxRetryAttempts   int
}

// AlertsConfig configures the license expiry scanner.
type AlertsConfig struct {
	Enabled  bool
	CronSpec string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "postgres",
		DBName:    "stationnotify",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		AWSRegion: "us-east-1",

		SMS: SMSConfig{
			Timeout:    30 * time.Second,
			DailyLimit: 500,
			Timezone:   "Local",
		},
		Dispatch: DispatchConfig{
			BulkSendDelay:      time.Second,
			RetrySweepInterval: 30 * time.Second,
			RetryBackoffBase:   time.Second,
			MaxRetryAttempts:   5,
		},
		Alerts: AlertsConfig{
			Enabled:  true,
			CronSpec: "0 8 * * *",
		},
		APIRateLimit: 100,
	}

	var err error

	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envString("LOG_FILE", cfg.LogFile)
	cfg.Env = envString("ENV", cfg.Env)

	// Database config
	cfg.DBHost = envString("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = envInt("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = envString("DB_USER", cfg.DBUser)
	cfg.DBPassword = envString("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = envString("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = envString("DB_SSLMODE", cfg.DBSSLMode)

	// Redis config
	cfg.RedisHost = envString("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = envInt("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = envString("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = envInt("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	cfg.AWSRegion = envString("AWS_REGION", cfg.AWSRegion)
	cfg.SQSRegion = envString("SQS_REGION", cfg.AWSRegion)
	cfg.SQSEventsQueueURL = envString("SQS_EVENTS_QUEUE_URL", "")
	cfg.SQSInboundQueueURL = envString("SQS_INBOUND_QUEUE_URL", "")

	if err := loadSMS(&cfg.SMS, cfg.AWSRegion); err != nil {
		return nil, err
	}

	if cfg.Dispatch.BulkSendDelay, err = envMillis("BULK_SEND_DELAY_MS", cfg.Dispatch.BulkSendDelay); err != nil {
		return nil, err
	}
	if cfg.Dispatch.RetryBackoffBase, err = envMillis("RETRY_BACKOFF_BASE_MS", cfg.Dispatch.RetryBackoffBase); err != nil {
		return nil, err
	}
	if cfg.Dispatch.MaxRetryAttempts, err = envInt("MAX_RETRY_ATTEMPTS", cfg.Dispatch.MaxRetryAttempts); err != nil {
		return nil, err
	}
	sweep, err := envInt("RETRY_SWEEP_INTERVAL_SECONDS", int(cfg.Dispatch.RetrySweepInterval/time.Second))
	if err != nil {
		return nil, err
	}
	cfg.Dispatch.RetrySweepInterval = time.Duration(sweep) * time.Second

	if cfg.Alerts.Enabled, err = envBool("ALERT_SCAN_ENABLED", cfg.Alerts.Enabled); err != nil {
		return nil, err
	}
	cfg.Alerts.CronSpec = envString("ALERT_SCAN_CRON", cfg.Alerts.CronSpec)

	if cfg.APIRateLimit, err = envInt("API_RATE_LIMIT", cfg.APIRateLimit); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadSMS(sms *SMSConfig, awsRegion string) error {
	var err error

	sms.Transport = strings.ToLower(envString("SMS_TRANSPORT", sms.Transport))
	sms.APIURL = envString("SMS_API_URL", sms.APIURL)
	sms.APIKey = envString("SMS_API_KEY", sms.APIKey)
	sms.APISecret = envString("SMS_API_SECRET", sms.APISecret)
	sms.Source = envString("SMS_SOURCE", sms.Source)
	sms.SNSRegion = envString("SMS_SNS_REGION", awsRegion)

	if price := os.Getenv("SMS_SNS_PRICE"); price != "" {
		p, err := strconv.ParseFloat(price, 64)
		if err != nil {
			return fmt.Errorf("invalid SMS_SNS_PRICE: %w", err)
		}
		sms.SNSPrice = p
	}

	timeout, err := envInt("SMS_TIMEOUT_SECONDS", int(sms.Timeout/time.Second))
	if err != nil {
		return err
	}
	sms.Timeout = time.Duration(timeout) * time.Second

	if sms.DailyLimit, err = envInt("SMS_DAILY_LIMIT", sms.DailyLimit); err != nil {
		return err
	}
	if sms.RestrictedMode, err = envBool("SMS_RESTRICTED_MODE", sms.RestrictedMode); err != nil {
		return err
	}
	if allowed := os.Getenv("SMS_ALLOWED_NUMBERS"); allowed != "" {
		sms.AllowedNumbers = nil
		for _, n := range strings.Split(allowed, ",") {
			if n = strings.TrimSpace(n); n != "" {
				sms.AllowedNumbers = append(sms.AllowedNumbers, n)
			}
		}
	}
	sms.Timezone = envString("SMS_TIMEZONE", sms.Timezone)

	return nil
}

func (c *Config) validate() error {
	switch c.SMS.Transport {
	case "":
	case "http":
		if c.SMS.APIURL == "" || c.SMS.APIKey == "" || c.SMS.APISecret == "" {
			return fmt.Errorf("SMS_TRANSPORT=http requires SMS_API_URL, SMS_API_KEY and SMS_API_SECRET")
		}
	case "sns":
	default:
		return fmt.Errorf("invalid SMS_TRANSPORT %q: must be http or sns", c.SMS.Transport)
	}

	if c.SMS.DailyLimit < 0 {
		return fmt.Errorf("SMS_DAILY_LIMIT must be >= 0")
	}
	if c.Dispatch.MaxRetryAttempts < 1 || c.Dispatch.MaxRetryAttempts > 10 {
		return fmt.Errorf("MAX_RETRY_ATTEMPTS must be between 1 and 10")
	}
	if c.Dispatch.RetrySweepInterval <= 0 {
		return fmt.Errorf("RETRY_SWEEP_INTERVAL_SECONDS must be > 0")
	}
	if _, err := time.LoadLocation(c.SMS.Timezone); err != nil {
		return fmt.Errorf("invalid SMS_TIMEZONE: %w", err)
	}
	return nil
}

// Location returns the timezone used for the daily quota boundary.
func (s SMSConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	ms, err := envInt(key, int(def/time.Millisecond))
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
