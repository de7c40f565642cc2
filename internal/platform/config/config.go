package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreSheets   = "sheets"
)

const defaultSigningKey = "dev-secret-key-change-in-production"

// Server captures process level configuration. It is built once by FromEnv
// and passed down to constructors; nothing else reads the environment.
type Server struct {
	Addr          string
	Environment   string
	LogFormat     string
	LogLevel      string
	BaseURL       string
	DirectoryFile string

	Store      StoreConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	WhatsApp   WhatsAppConfig
	Credential CredentialConfig
	Tasks      TasksConfig
	Security   SecurityConfig
	RateLimit  RateLimitConfig
}

// StoreConfig selects and configures the visitor record store.
type StoreConfig struct {
	Backend     string
	SQLitePath  string
	PostgresDSN string

	SheetsSpreadsheetID   string
	SheetsSheetName       string
	SheetsCredentialsFile string
}

// RedisConfig configures the optional Redis client used for distributed key locks.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration
}

// KafkaConfig configures the audit sink. Empty Brokers keeps audit in memory.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	ClientID   string
}

// WhatsAppConfig configures the Cloud API client and webhook.
type WhatsAppConfig struct {
	APIBaseURL    string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	AppSecret     string
	Timeout       time.Duration
}

// Enabled reports whether outbound messages can be sent.
func (c WhatsAppConfig) Enabled() bool {
	return c.PhoneNumberID != "" && c.AccessToken != ""
}

// CredentialConfig configures the entry credential signer.
type CredentialConfig struct {
	SigningKey string
	Version    int
}

// TasksConfig sizes the background notification runner.
type TasksConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// SecurityConfig holds shared-secret guards for operator surfaces.
type SecurityConfig struct {
	AdminToken string
	StaffToken string
}

// RateLimitConfig sets per-client-IP budgets for public endpoints. Limits are
// shared through Redis when REDIS_URL is set.
type RateLimitConfig struct {
	Disabled          bool
	RegisterPerMinute int
	ScanPerMinute     int
	WebhookPerMinute  int
}

// IsProduction reports whether the process runs with production defaults disabled.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// FromEnv builds a Server config from environment variables, loading a .env
// file first when one exists.
func FromEnv() (Server, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Server{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Server{
		Addr:          getEnv("VISITORPASS_ADDR", ":8080"),
		Environment:   getEnv("VISITORPASS_ENV", "development"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		BaseURL:       strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		DirectoryFile: getEnv("DIRECTORY_FILE", ""),
		Store: StoreConfig{
			Backend:               strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
			SQLitePath:            getEnv("SQLITE_PATH", "visitorpass.db"),
			PostgresDSN:           getEnv("DATABASE_URL", ""),
			SheetsSpreadsheetID:   getEnv("SHEETS_SPREADSHEET_ID", ""),
			SheetsSheetName:       getEnv("SHEETS_SHEET_NAME", "Visitors"),
			SheetsCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			LockTTL:      getEnvDuration("REDIS_LOCK_TTL", 15*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(getEnv("KAFKA_BROKERS", "")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "visitorpass.audit"),
			ClientID:   getEnv("KAFKA_CLIENT_ID", "visitorpass"),
		},
		WhatsApp: WhatsAppConfig{
			APIBaseURL:    strings.TrimRight(getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com"), "/"),
			APIVersion:    getEnv("WHATSAPP_API_VERSION", "v19.0"),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			AccessToken:   getEnv("WHATSAPP_TOKEN", ""),
			VerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
			AppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
			Timeout:       getEnvDuration("WHATSAPP_TIMEOUT", 10*time.Second),
		},
		Credential: CredentialConfig{
			SigningKey: getEnv("CREDENTIAL_SIGNING_KEY", defaultSigningKey),
			Version:    getEnvInt("CREDENTIAL_VERSION", 1),
		},
		Tasks: TasksConfig{
			Workers:   getEnvInt("TASK_WORKERS", 4),
			QueueSize: getEnvInt("TASK_QUEUE_SIZE", 256),
			Timeout:   getEnvDuration("TASK_TIMEOUT", 10*time.Second),
		},
		Security: SecurityConfig{
			AdminToken: getEnv("ADMIN_API_TOKEN", ""),
			StaffToken: getEnv("STAFF_API_TOKEN", ""),
		},
		RateLimit: RateLimitConfig{
			Disabled:          getEnvBool("RATE_LIMIT_DISABLED", false),
			RegisterPerMinute: getEnvInt("RATE_LIMIT_REGISTER_PER_MINUTE", 10),
			ScanPerMinute:     getEnvInt("RATE_LIMIT_SCAN_PER_MINUTE", 120),
			WebhookPerMinute:  getEnvInt("RATE_LIMIT_WEBHOOK_PER_MINUTE", 600),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the process cannot run with.
func (s Server) Validate() error {
	switch s.Store.Backend {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if s.Store.PostgresDSN == "" {
			return errors.New("config: DATABASE_URL is required for the postgres store")
		}
	case StoreSheets:
		if s.Store.SheetsSpreadsheetID == "" {
			return errors.New("config: SHEETS_SPREADSHEET_ID is required for the sheets store")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", s.Store.Backend)
	}
	if s.Credential.SigningKey == "" {
		return errors.New("config: CREDENTIAL_SIGNING_KEY must not be empty")
	}
	if s.Credential.Version < 1 {
		return errors.New("config: CREDENTIAL_VERSION must be positive")
	}
	if s.IsProduction() {
		if s.Credential.SigningKey == defaultSigningKey {
			return errors.New("config: CREDENTIAL_SIGNING_KEY must be set in production")
		}
		if s.Security.AdminToken == "" {
			return errors.New("config: ADMIN_API_TOKEN must be set in production")
		}
	}
	if s.Tasks.Workers < 1 || s.Tasks.QueueSize < 1 {
		return errors.New("config: TASK_WORKERS and TASK_QUEUE_SIZE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
