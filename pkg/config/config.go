// Package config loads webhookd settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// Storage backends.
const (
	StorageMemory    = "memory"
	StorageSQLite    = "sqlite"
	StoragePostgres  = "postgres"
	StorageMySQL     = "mysql"
	StorageRedis     = "redis"
	StorageFirestore = "firestore"
	StorageTiered    = "tiered"
)

// Email providers.
const (
	EmailLog      = "log"
	EmailSMTP     = "smtp"
	EmailPostmark = "postmark"
)

// Credential modes.
const (
	CredentialStatic    = "static"
	CredentialGenerated = "generated"
)

// Config holds all webhookd settings. The env tag names the variable a field
// is read from and is used in validation messages.
type Config struct {
	Addr        string `env:"WEBHOOKD_ADDR" validate:"required"`
	MetricsAddr string `env:"WEBHOOKD_METRICS_ADDR"`
	LogLevel    string `env:"WEBHOOKD_LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat   string `env:"WEBHOOKD_LOG_FORMAT" validate:"oneof=json console"`

	Storage          string `env:"WEBHOOKD_STORAGE" validate:"oneof=memory sqlite postgres mysql redis firestore tiered"`
	TieredCold       string `env:"TIERED_COLD" validate:"omitempty,oneof=sqlite postgres mysql redis firestore"`
	SQLiteDir        string `env:"SQLITE_DIR"`
	PostgresDSN      string `env:"POSTGRES_DSN"`
	MySQLDSN         string `env:"MYSQL_DSN"`
	RedisAddr        string `env:"REDIS_ADDR"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RedisDB          int    `env:"REDIS_DB" validate:"gte=0,lte=15"`
	FirestoreProject string `env:"FIRESTORE_PROJECT"`

	CredentialMode            string `env:"CREDENTIAL_MODE" validate:"oneof=static generated"`
	DefaultCredential         string `env:"DEFAULT_CREDENTIAL" validate:"required_if=CredentialMode static"`
	GeneratedCredentialLength int    `env:"GENERATED_CREDENTIAL_LENGTH" validate:"gte=8,lte=128"`

	EmailProvider       string `env:"EMAIL_PROVIDER" validate:"oneof=log smtp postmark"`
	SMTPHost            string `env:"SMTP_HOST" validate:"required_if=EmailProvider smtp"`
	SMTPPort            int    `env:"SMTP_PORT" validate:"gte=1,lte=65535"`
	SMTPUsername        string `env:"SMTP_USERNAME"`
	SMTPPassword        string `env:"SMTP_PASSWORD"`
	PostmarkServerToken string `env:"POSTMARK_SERVER_TOKEN" validate:"required_if=EmailProvider postmark"`
	EmailFrom           string `env:"EMAIL_FROM" validate:"required,email"`
	LoginURL            string `env:"LOGIN_URL" validate:"omitempty,url"`

	NotifyTimeout     time.Duration `env:"NOTIFY_TIMEOUT" validate:"gt=0"`
	NotifyConcurrency int           `env:"NOTIFY_CONCURRENCY" validate:"gte=1"`

	MaxBodyBytes       int64 `env:"MAX_BODY_BYTES" validate:"gte=1024"`
	RateLimitPerMinute int   `env:"RATE_LIMIT_PER_MINUTE" validate:"gte=0"`

	// PlanCatalog is parsed from PLAN_CATALOG (JSON) or the built-in catalog.
	PlanCatalog *reconcile.PlanCatalog `env:"PLAN_CATALOG" validate:"required"`

	DirectoryBreakerThreshold int `env:"DIRECTORY_BREAKER_THRESHOLD" validate:"gte=0"`
}

// Load reads configuration from the environment. A .env file is loaded if
// present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	var errs []error
	intVar := func(key string, fallback int) int {
		n, err := envOrDefaultInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}
	durationVar := func(key string, fallback time.Duration) time.Duration {
		d, err := envOrDefaultDuration(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := &Config{
		Addr:        envOrDefault("WEBHOOKD_ADDR", ":8080"),
		MetricsAddr: strings.TrimSpace(os.Getenv("WEBHOOKD_METRICS_ADDR")),
		LogLevel:    strings.ToLower(envOrDefault("WEBHOOKD_LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(envOrDefault("WEBHOOKD_LOG_FORMAT", "json")),

		Storage:          strings.ToLower(envOrDefault("WEBHOOKD_STORAGE", StorageMemory)),
		TieredCold:       strings.ToLower(strings.TrimSpace(os.Getenv("TIERED_COLD"))),
		SQLiteDir:        envOrDefault("SQLITE_DIR", "./data"),
		PostgresDSN:      strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		MySQLDSN:         strings.TrimSpace(os.Getenv("MYSQL_DSN")),
		RedisAddr:        envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          intVar("REDIS_DB", 0),
		FirestoreProject: strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT")),

		CredentialMode:            strings.ToLower(envOrDefault("CREDENTIAL_MODE", CredentialGenerated)),
		DefaultCredential:         os.Getenv("DEFAULT_CREDENTIAL"),
		GeneratedCredentialLength: intVar("GENERATED_CREDENTIAL_LENGTH", 12),

		EmailProvider:       strings.ToLower(envOrDefault("EMAIL_PROVIDER", EmailLog)),
		SMTPHost:            strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:            intVar("SMTP_PORT", 587),
		SMTPUsername:        strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		PostmarkServerToken: strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:           envOrDefault("EMAIL_FROM", "no-reply@localhost.localdomain"),
		LoginURL:            strings.TrimSpace(os.Getenv("LOGIN_URL")),

		NotifyTimeout:     durationVar("NOTIFY_TIMEOUT", 30*time.Second),
		NotifyConcurrency: intVar("NOTIFY_CONCURRENCY", 16),

		MaxBodyBytes:       int64(intVar("MAX_BODY_BYTES", 256*1024)),
		RateLimitPerMinute: intVar("RATE_LIMIT_PER_MINUTE", 120),

		DirectoryBreakerThreshold: intVar("DIRECTORY_BREAKER_THRESHOLD", 5),
	}

	catalog, err := loadCatalog(os.Getenv("PLAN_CATALOG"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.PlanCatalog = catalog

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func loadCatalog(raw string) (*reconcile.PlanCatalog, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reconcile.DefaultCatalog(), nil
	}
	catalog, err := reconcile.ParsePlanCatalog([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("PLAN_CATALOG: %w", err)
	}
	return catalog, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate checks field constraints and the settings each backend needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%w: %s", reconcile.ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return err
	}

	backends := []string{c.Storage}
	var missing []string
	if c.Storage == StorageTiered {
		backends = []string{c.TieredCold}
		if c.TieredCold == "" {
			missing = append(missing, "TIERED_COLD")
		}
	}
	for _, b := range backends {
		switch b {
		case StoragePostgres:
			if c.PostgresDSN == "" {
				missing = append(missing, "POSTGRES_DSN")
			}
		case StorageMySQL:
			if c.MySQLDSN == "" {
				missing = append(missing, "MYSQL_DSN")
			}
		case StorageRedis:
			if c.RedisAddr == "" {
				missing = append(missing, "REDIS_ADDR")
			}
		case StorageFirestore:
			if c.FirestoreProject == "" {
				missing = append(missing, "FIRESTORE_PROJECT")
			}
		case StorageSQLite:
			if c.SQLiteDir == "" {
				missing = append(missing, "SQLITE_DIR")
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: WEBHOOKD_STORAGE=%s requires %s",
			reconcile.ErrInvalidConfig, c.Storage, strings.Join(missing, ", "))
	}
	if c.CredentialMode == CredentialStatic && len(c.DefaultCredential) < reconcile.MinGeneratedCredentialLength {
		return fmt.Errorf("%w: DEFAULT_CREDENTIAL must be at least %d characters",
			reconcile.ErrInvalidConfig, reconcile.MinGeneratedCredentialLength)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "email":
		return fe.Field() + " must be a valid email address"
	case "url":
		return fe.Field() + " must be a valid URL"
	default:
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}

// CredentialStrategy builds the strategy selected by CREDENTIAL_MODE.
func (c *Config) CredentialStrategy() reconcile.CredentialStrategy {
	if c.CredentialMode == CredentialStatic {
		return reconcile.StaticCredential{Value: c.DefaultCredential}
	}
	return reconcile.GeneratedCredential{Length: c.GeneratedCredentialLength}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
