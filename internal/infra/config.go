package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration loaded from environment
// variables. Defaults match the behavior of a plain developer workstation:
// filesystem storage next to the binary and a headless browser.
type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL"`

	TargetURL           string        `envconfig:"FLOW_TARGET_URL" default:"https://labs.google"`
	WorkspaceURL        string        `envconfig:"FLOW_WORKSPACE_URL" default:"https://labs.google/fx/tools/flow"`
	BrowserUserAgent    string        `envconfig:"BROWSER_USER_AGENT"`
	Headless            bool          `envconfig:"HEADLESS" default:"true"`
	NavigationTimeout   time.Duration `envconfig:"NAVIGATION_TIMEOUT" default:"30s"`
	SubmitRetryAttempts int           `envconfig:"SUBMIT_RETRY_ATTEMPTS" default:"3"`

	CredentialsPath string `envconfig:"CREDENTIALS_PATH" default:"labs.google_cookies.json"`

	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"filesystem"`
	StoragePath    string `envconfig:"STORAGE_PATH" default:"downloads"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3AccessKey    string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey    string `envconfig:"S3_SECRET_KEY"`
	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3Region       string `envconfig:"S3_REGION"`
	S3UseSSL       bool   `envconfig:"S3_USE_SSL" default:"true"`

	MaxConcurrentJobs    int           `envconfig:"MAX_CONCURRENT_JOBS" default:"2"`
	PollInterval         time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	GenerationTimeout    time.Duration `envconfig:"GENERATION_TIMEOUT" default:"5m"`
	SettleDelay          time.Duration `envconfig:"SETTLE_DELAY" default:"3s"`
	SyncWaitTimeout      time.Duration `envconfig:"SYNC_WAIT_TIMEOUT" default:"6m"`
	CancelAbandonedWaits bool          `envconfig:"CANCEL_ABANDONED_WAITS" default:"false"`

	HTTPReadTimeout    time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	HTTPWriteTimeout   time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"10m"`
	HTTPIdleTimeout    time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	RateLimitPerMin    int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig parses the environment and validates settings that have to be
// consistent with each other.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	var problems []string

	switch cfg.StorageBackend {
	case "filesystem":
	case "s3":
		if cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" || cfg.S3Bucket == "" {
			problems = append(problems, "S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY, and S3_BUCKET are required when STORAGE_BACKEND=s3")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_BACKEND %q (want filesystem or s3)", cfg.StorageBackend))
	}

	if cfg.MaxConcurrentJobs < 1 {
		problems = append(problems, "MAX_CONCURRENT_JOBS must be at least 1")
	}
	if cfg.GenerationTimeout <= cfg.PollInterval {
		problems = append(problems, "GENERATION_TIMEOUT must be longer than POLL_INTERVAL")
	}
	if cfg.HTTPWriteTimeout <= cfg.SyncWaitTimeout {
		problems = append(problems, "HTTP_WRITE_TIMEOUT must be longer than SYNC_WAIT_TIMEOUT or synchronous responses get cut off")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return &cfg, nil
}
