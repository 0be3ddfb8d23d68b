// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, rate limiting, upload constraints, abuse
// tracking, human verification, mail delivery, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meridianedu/go-admissions-backend/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-admissions-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AbuseConfig defines the abuse-tracking windows, sweep cadence, and backend.
type AbuseConfig struct {
	Backend          string        // "memory" (default) or "redis"
	RedisAddr        string        // host:port, redis backend only
	RedisPassword    string        // optional
	RedisDB          int           // redis database index
	HistoryWindow    time.Duration // rolling submission history span (24h)
	SweepInterval    time.Duration // cadence of the stale-history sweep (1h)
	VerifyFailLimit  int           // verification failures before block (3)
	VerifyFailWindow time.Duration // window for counting failures (1h)
}

// UploadConfig defines attachment constraints and temporary storage.
type UploadConfig struct {
	TempDir      string // directory for transient upload files
	MaxFiles     int    // attachments per submission (5)
	MaxFileBytes int64  // per-file size cap (10 MiB)
	Parallelism  int    // bounded parallelism for batch validation
}

// VerifyConfig defines the human-verification collaborator settings.
type VerifyConfig struct {
	Secret   string        // provider secret; empty means fail-open
	URL      string        // verification endpoint
	MinScore float64       // minimum trust score to accept (0.5)
	Timeout  time.Duration // per-call timeout before failing open
}

// MailConfig defines the delivery chain: a primary transactional-email
// provider and a secondary direct SMTP transport used as fallback.
type MailConfig struct {
	// Primary provider (template API)
	ProviderURL          string  // send endpoint
	ProviderAPIKey       string  // bearer credential
	ProviderRPS          float64 // outbound pacing, requests per second
	AdminTemplate        string  // template id for the admin notification
	ConfirmationTemplate string  // template id for the sender confirmation

	// Secondary SMTP transport
	SMTPHost string // host:port
	SMTPUser string
	SMTPPass string

	// Addressing
	FromAddress  string // envelope/From for both messages
	AdminAddress string // admissions inbox receiving notifications

	// Delivery workers
	Workers   int // worker pool size
	QueueSize int // pending submissions before Enqueue blocks
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 30s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 30s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath     string // SQLite path for the delivery audit log
	AdminToken string // static token guarding the deliveries endpoint

	// Contact-form rate limiting (fixed window per IP)
	RateLimit  int           // submissions allowed per window (>= 1)
	RateWindow time.Duration // window span, e.g. 1h

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Pipeline
	Abuse  AbuseConfig
	Upload UploadConfig
	Verify VerifyConfig
	Mail   MailConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 30*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:     getenv("DB_PATH", "deliveries.db"),
		AdminToken: getenv("ADMIN_TOKEN", ""),

		// Rate limiting
		RateLimit:  getint("CONTACT_RATE_LIMIT", 3),
		RateWindow: getdur("CONTACT_RATE_WINDOW", time.Hour),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Abuse tracking
		Abuse: AbuseConfig{
			Backend:          strings.ToLower(getenv("ABUSE_BACKEND", "memory")),
			RedisAddr:        getenv("ABUSE_REDIS_ADDR", "localhost:6379"),
			RedisPassword:    getenv("ABUSE_REDIS_PASSWORD", ""),
			RedisDB:          getint("ABUSE_REDIS_DB", 0),
			HistoryWindow:    getdur("ABUSE_HISTORY_WINDOW", 24*time.Hour),
			SweepInterval:    getdur("ABUSE_SWEEP_INTERVAL", time.Hour),
			VerifyFailLimit:  getint("ABUSE_VERIFY_FAIL_LIMIT", 3),
			VerifyFailWindow: getdur("ABUSE_VERIFY_FAIL_WINDOW", time.Hour),
		},

		// Uploads
		Upload: UploadConfig{
			TempDir:      getenv("UPLOAD_TMP_DIR", os.TempDir()),
			MaxFiles:     getint("UPLOAD_MAX_FILES", 5),
			MaxFileBytes: getint64("UPLOAD_MAX_FILE_BYTES", 10<<20),
			Parallelism:  getint("UPLOAD_VALIDATE_PARALLELISM", 3),
		},

		// Human verification
		Verify: VerifyConfig{
			Secret:   getenv("RECAPTCHA_SECRET", ""),
			URL:      getenv("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
			MinScore: getfloat("RECAPTCHA_MIN_SCORE", 0.5),
			Timeout:  getdur("RECAPTCHA_TIMEOUT", 5*time.Second),
		},

		// Mail delivery
		Mail: MailConfig{
			ProviderURL:          getenv("MAIL_PROVIDER_URL", ""),
			ProviderAPIKey:       getenv("MAIL_PROVIDER_API_KEY", ""),
			ProviderRPS:          getfloat("MAIL_PROVIDER_RPS", 5.0),
			AdminTemplate:        getenv("MAIL_ADMIN_TEMPLATE", "contact-admin-notification"),
			ConfirmationTemplate: getenv("MAIL_CONFIRMATION_TEMPLATE", "contact-confirmation"),
			SMTPHost:             getenv("SMTP_HOST", ""),
			SMTPUser:             getenv("SMTP_USER", ""),
			SMTPPass:             getenv("SMTP_PASS", ""),
			// From defaults to the SMTP account so fallback sends pass
			// sender-alignment checks when MAIL_FROM is unset.
			FromAddress: sysutil.FirstNonEmpty(
				os.Getenv("MAIL_FROM"),
				os.Getenv("SMTP_USER"),
				"no-reply@admissions.example.edu",
			),
			AdminAddress:         getenv("MAIL_ADMIN_TO", "admissions@admissions.example.edu"),
			Workers:              getint("DELIVERY_WORKERS", 2),
			QueueSize:            getint("DELIVERY_QUEUE_SIZE", 64),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-admissions-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateLimit < 1 {
		return cfg, errors.New("CONTACT_RATE_LIMIT must be >= 1")
	}
	if cfg.RateWindow <= 0 {
		return cfg, errors.New("CONTACT_RATE_WINDOW must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	switch cfg.Abuse.Backend {
	case "memory", "redis":
	default:
		return cfg, errors.New("ABUSE_BACKEND must be memory or redis")
	}
	if cfg.Abuse.Backend == "redis" && strings.TrimSpace(cfg.Abuse.RedisAddr) == "" {
		return cfg, errors.New("ABUSE_REDIS_ADDR must not be empty when ABUSE_BACKEND=redis")
	}
	if cfg.Abuse.HistoryWindow <= 0 || cfg.Abuse.SweepInterval <= 0 || cfg.Abuse.VerifyFailWindow <= 0 {
		return cfg, errors.New("abuse windows must be positive durations")
	}
	if cfg.Abuse.VerifyFailLimit < 1 {
		return cfg, errors.New("ABUSE_VERIFY_FAIL_LIMIT must be >= 1")
	}
	if strings.TrimSpace(cfg.Upload.TempDir) == "" {
		return cfg, errors.New("UPLOAD_TMP_DIR must not be empty")
	}
	if cfg.Upload.MaxFiles < 1 {
		return cfg, errors.New("UPLOAD_MAX_FILES must be >= 1")
	}
	if cfg.Upload.MaxFileBytes <= 0 {
		return cfg, errors.New("UPLOAD_MAX_FILE_BYTES must be > 0")
	}
	if cfg.Upload.Parallelism < 1 {
		return cfg, errors.New("UPLOAD_VALIDATE_PARALLELISM must be >= 1")
	}
	if cfg.Verify.MinScore < 0 || cfg.Verify.MinScore > 1 {
		return cfg, errors.New("RECAPTCHA_MIN_SCORE must be in [0,1]")
	}
	if cfg.Verify.Timeout <= 0 {
		return cfg, errors.New("RECAPTCHA_TIMEOUT must be > 0")
	}
	if cfg.Mail.ProviderRPS < 0 {
		return cfg, errors.New("MAIL_PROVIDER_RPS must be >= 0")
	}
	if cfg.Mail.Workers < 1 {
		return cfg, errors.New("DELIVERY_WORKERS must be >= 1")
	}
	if cfg.Mail.QueueSize < 1 {
		return cfg, errors.New("DELIVERY_QUEUE_SIZE must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
