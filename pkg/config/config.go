// Package config loads the service configuration from defaults, an
// optional .env file, and environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"remedy-copilot/pkg/webhook"
)

// Config is the full service configuration.
type Config struct {
	// HTTP boundary
	ListenAddr string `env:"REMEDY_LISTEN_ADDR"`
	LogLevel   string `env:"REMEDY_LOG_LEVEL"`

	// Storage. An empty DatabaseURL selects the in-memory stores.
	DatabaseURL string `env:"REMEDY_DATABASE_URL"`
	// Coordination. An empty RedisAddr selects the in-process coordinator.
	RedisAddr     string `env:"REMEDY_REDIS_ADDR"`
	RedisPassword string `env:"REMEDY_REDIS_PASSWORD"`

	// Webhook shared secrets, one per provider. Empty disables the
	// provider's endpoint.
	WebhookSecrets webhook.Secrets

	// SCM access
	GitHubToken string `env:"REMEDY_GITHUB_TOKEN"`

	// Planner. Empty endpoint selects the deterministic rule planner.
	OpenAIEndpoint   string `env:"REMEDY_OPENAI_ENDPOINT"`
	OpenAIKey        string `env:"REMEDY_OPENAI_KEY"`
	OpenAIDeployment string `env:"REMEDY_OPENAI_DEPLOYMENT"`

	// Safety policy YAML. Empty selects the built-in policy.
	PolicyPath string `env:"REMEDY_POLICY_PATH"`

	// Worker pool
	Workers   int `env:"REMEDY_WORKERS"`
	QueueSize int `env:"REMEDY_QUEUE_SIZE"`

	// Governor
	Cooldown             time.Duration `env:"REMEDY_COOLDOWN"`
	MaxPipelineAttempts  int           `env:"REMEDY_MAX_ATTEMPTS"`
	RepoConcurrencyLimit int           `env:"REMEDY_REPO_CONCURRENCY"`

	// Sandbox
	ValidationTimeout time.Duration `env:"REMEDY_VALIDATION_TIMEOUT"`
	SandboxMemory     string        `env:"REMEDY_SANDBOX_MEMORY"`
	SandboxCPU        string        `env:"REMEDY_SANDBOX_CPU"`
	EnableSBOM        bool          `env:"REMEDY_ENABLE_SBOM"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:           ":8080",
		LogLevel:             "info",
		Workers:              4,
		QueueSize:            256,
		Cooldown:             60 * time.Second,
		MaxPipelineAttempts:  3,
		RepoConcurrencyLimit: 2,
		ValidationTimeout:    5 * time.Minute,
		SandboxMemory:        "2g",
		SandboxCPU:           "2",
	}
}

// Load builds the configuration: defaults, then the optional env file,
// then the process environment.
func Load(envFile string) (*Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("REMEDY_LISTEN_ADDR", &cfg.ListenAddr)
	str("REMEDY_LOG_LEVEL", &cfg.LogLevel)
	str("REMEDY_DATABASE_URL", &cfg.DatabaseURL)
	str("REMEDY_REDIS_ADDR", &cfg.RedisAddr)
	str("REMEDY_REDIS_PASSWORD", &cfg.RedisPassword)
	str("REMEDY_GITHUB_WEBHOOK_SECRET", &cfg.WebhookSecrets.GitHub)
	str("REMEDY_GITLAB_WEBHOOK_SECRET", &cfg.WebhookSecrets.GitLab)
	str("REMEDY_CIRCLECI_WEBHOOK_SECRET", &cfg.WebhookSecrets.CircleCI)
	str("REMEDY_JENKINS_WEBHOOK_SECRET", &cfg.WebhookSecrets.Jenkins)
	str("REMEDY_AZURE_WEBHOOK_SECRET", &cfg.WebhookSecrets.AzureDevOps)
	str("REMEDY_GITHUB_TOKEN", &cfg.GitHubToken)
	str("REMEDY_OPENAI_ENDPOINT", &cfg.OpenAIEndpoint)
	str("REMEDY_OPENAI_KEY", &cfg.OpenAIKey)
	str("REMEDY_OPENAI_DEPLOYMENT", &cfg.OpenAIDeployment)
	str("REMEDY_POLICY_PATH", &cfg.PolicyPath)
	str("REMEDY_SANDBOX_MEMORY", &cfg.SandboxMemory)
	str("REMEDY_SANDBOX_CPU", &cfg.SandboxCPU)
	num("REMEDY_WORKERS", &cfg.Workers)
	num("REMEDY_QUEUE_SIZE", &cfg.QueueSize)
	num("REMEDY_MAX_ATTEMPTS", &cfg.MaxPipelineAttempts)
	num("REMEDY_REPO_CONCURRENCY", &cfg.RepoConcurrencyLimit)
	dur("REMEDY_COOLDOWN", &cfg.Cooldown)
	dur("REMEDY_VALIDATION_TIMEOUT", &cfg.ValidationTimeout)
	if v := os.Getenv("REMEDY_ENABLE_SBOM"); v != "" {
		cfg.EnableSBOM = v == "true" || v == "1"
	}
}

// Validate checks the essential fields.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxPipelineAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	return nil
}
