package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Log       LogConfig
	Telegram  TelegramConfig
	Voice     VoiceConfig
	Email     EmailConfig
	Reminders ReminderConfig
	Relay     RelayConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// BaseURL is the public site address used for links in outgoing messages.
	BaseURL string
	// WebhookRPS and WebhookBurst bound inbound webhook traffic per client IP.
	WebhookRPS   float64
	WebhookBurst int
	CORSOrigins  []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Level  string
	Format string // json or console
}

// TelegramConfig holds both bots: the users bot that talks to patients and
// the staff bot that posts internal alerts.
type TelegramConfig struct {
	UsersToken   string
	Username     string
	StaffToken   string
	StaffChatIDs []int64
	APIURL       string
	Timeout      time.Duration
}

type VoiceConfig struct {
	PublicKey     string
	CampaignID    string
	InitiateURL   string
	PollingURL    string
	StaticGateway string
	Timeout       time.Duration
	CallCooldown  time.Duration
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// UseTLS dials with implicit TLS (port 465) instead of STARTTLS.
	UseTLS  bool
	Timeout time.Duration
}

type ReminderConfig struct {
	Interval   time.Duration
	DefaultTZ  string
	DedupeTTL  time.Duration
	BatchLimit int
}

type RelayConfig struct {
	ForwardURL  string
	PollTimeout int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first without overriding variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			Env:          getEnv("ENV", "development"),
			BaseURL:      strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
			WebhookRPS:   getEnvFloat("WEBHOOK_RATE_RPS", 20),
			WebhookBurst: getEnvInt("WEBHOOK_RATE_BURST", 40),
			CORSOrigins:  getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "platform"),
			Password: getEnv("DB_PASSWORD", "platform"),
			Database: getEnv("DB_NAME", "platform"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Telegram: TelegramConfig{
			UsersToken: getEnv("TELEGRAM_BOT_TOKEN_USERS", ""),
			Username:   strings.TrimPrefix(getEnv("TELEGRAM_BOT_USERNAME", ""), "@"),
			StaffToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			APIURL:     strings.TrimRight(getEnv("TELEGRAM_API_URL", "https://api.telegram.org"), "/"),
			Timeout:    getEnvDuration("TELEGRAM_TIMEOUT", 7*time.Second),
		},
		Voice: VoiceConfig{
			PublicKey:     getEnv("ZVONOK_PUBLIC_KEY", ""),
			CampaignID:    getEnv("ZVONOK_CAMPAIGN_ID", ""),
			InitiateURL:   getEnv("ZVONOK_API_INITIATE_URL", ""),
			PollingURL:    getEnv("ZVONOK_API_POLLING_URL", ""),
			StaticGateway: getEnv("ZVONOK_STATIC_GATEWAY", ""),
			Timeout:       getEnvDuration("ZVONOK_TIMEOUT", 15*time.Second),
			CallCooldown:  getEnvDuration("PHONE_CALL_COOLDOWN", 60*time.Second),
		},
		Email: EmailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("DEFAULT_FROM_EMAIL", "no-reply@localhost"),
			UseTLS:   getEnvBool("SMTP_USE_TLS", false),
			Timeout:  getEnvDuration("EMAIL_TIMEOUT", 10*time.Second),
		},
		Reminders: ReminderConfig{
			Interval:   getEnvDuration("REMINDER_INTERVAL", 60*time.Second),
			DefaultTZ:  getEnv("REMINDER_DEFAULT_TZ", "UTC"),
			DedupeTTL:  getEnvDuration("REMINDER_DEDUPE_TTL", 26*time.Hour),
			BatchLimit: getEnvInt("REMINDER_BATCH_LIMIT", 500),
		},
		Relay: RelayConfig{
			ForwardURL:  getEnv("TG_FORWARD_URL", ""),
			PollTimeout: getEnvInt("TG_POLL_TIMEOUT", 50),
		},
	}

	ids, err := parseChatIDs(getEnvSlice("TELEGRAM_STAFF_CHAT_IDS", nil))
	if err != nil {
		return nil, err
	}
	cfg.Telegram.StaffChatIDs = ids

	if _, err := time.LoadLocation(cfg.Reminders.DefaultTZ); err != nil {
		return nil, fmt.Errorf("REMINDER_DEFAULT_TZ: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func parseChatIDs(values []string) ([]int64, error) {
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_STAFF_CHAT_IDS: invalid chat id %q", v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
