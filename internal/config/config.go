package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the containment engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	TokenStore  TokenStoreConfig  `yaml:"tokenStore"`
	Approval    ApprovalConfig    `yaml:"approval"`
	Containment ContainmentConfig `yaml:"containment"`
	Notify      NotifyConfig      `yaml:"notify"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// GatewayConfig configures access to the cloud-control REST shim.
type GatewayConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	APIKey     string        `yaml:"apiKey"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// SecretsConfig configures the signing-key parameter store. When BaseURL is
// empty the key is read from the CONTAINMENT_SIGNING_KEY environment variable
// instead (development and tests).
type SecretsConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	APIKey         string        `yaml:"apiKey"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"maxRetries"`
	SigningKeyName string        `yaml:"signingKeyName"`
}

// TokenStoreConfig controls the approval-token store backend.
type TokenStoreConfig struct {
	// Backend selects "memory" or "valkey".
	Backend        string        `yaml:"backend"`
	Addr           string        `yaml:"addr"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	MaxRetries     int           `yaml:"maxRetries"`
	TLS            bool          `yaml:"tls"`
	RetentionGrace time.Duration `yaml:"retentionGrace"`
}

// ApprovalConfig controls token issuance.
type ApprovalConfig struct {
	TTL time.Duration `yaml:"ttl"`
	// BaseURL is the externally reachable root of the approval endpoint,
	// embedded in operator notifications.
	BaseURL string `yaml:"baseURL"`
}

// ContainmentConfig controls the quarantine behaviour.
type ContainmentConfig struct {
	DenyAllPolicyID       string `yaml:"denyAllPolicyId"`
	StatusTagKey          string `yaml:"statusTagKey"`
	PoliciesTagKey        string `yaml:"policiesTagKey"`
	QuarantinedAtTagKey   string `yaml:"quarantinedAtTagKey"`
	RemediationTagKey     string `yaml:"remediationTagKey"`
	QuarantinedValue      string `yaml:"quarantinedValue"`
	HealthyValue          string `yaml:"healthyValue"`
	SampleResourcePattern string `yaml:"sampleResourcePattern"`
	SampleResourceID      string `yaml:"sampleResourceId"`
}

// NotifyConfig configures the operator notification channel. An empty
// WebhookURL falls back to log-only notifications.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and environment overrides. A .env
// file in the working directory is honoured when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONTAINMENT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			Timeout:    5 * time.Second,
			MaxRetries: 3,
		},
		Secrets: SecretsConfig{
			Timeout:        5 * time.Second,
			MaxRetries:     3,
			SigningKeyName: "containment/approval-secret",
		},
		TokenStore: TokenStoreConfig{
			Backend:        "memory",
			DialTimeout:    2 * time.Second,
			ReadTimeout:    500 * time.Millisecond,
			WriteTimeout:   500 * time.Millisecond,
			MaxRetries:     2,
			RetentionGrace: 24 * time.Hour,
		},
		Approval: ApprovalConfig{
			TTL: 60 * time.Minute,
		},
		Containment: ContainmentConfig{
			SampleResourcePattern: `^i-9{8,17}$`,
		},
		Notify: NotifyConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setDuration := func(key string, target *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*target = d
			}
		}
	}
	setInt := func(key string, target *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}
	setBool := func(key string, target *bool) {
		if v := os.Getenv(key); v != "" {
			*target = strings.EqualFold(v, "true") || v == "1"
		}
	}

	setString("CONTAINMENT_SERVER_ADDRESS", &cfg.Server.Address)
	setString("CONTAINMENT_METRICS_ADDRESS", &cfg.Server.MetricsAddress)
	setDuration("CONTAINMENT_GRACEFUL_TIMEOUT", &cfg.Server.GracefulTimeout)

	setString("CONTAINMENT_GATEWAY_BASE_URL", &cfg.Gateway.BaseURL)
	setString("CONTAINMENT_GATEWAY_API_KEY", &cfg.Gateway.APIKey)
	setDuration("CONTAINMENT_GATEWAY_TIMEOUT", &cfg.Gateway.Timeout)
	setInt("CONTAINMENT_GATEWAY_MAX_RETRIES", &cfg.Gateway.MaxRetries)

	setString("CONTAINMENT_SECRETS_BASE_URL", &cfg.Secrets.BaseURL)
	setString("CONTAINMENT_SECRETS_API_KEY", &cfg.Secrets.APIKey)
	setDuration("CONTAINMENT_SECRETS_TIMEOUT", &cfg.Secrets.Timeout)
	setString("CONTAINMENT_SIGNING_KEY_NAME", &cfg.Secrets.SigningKeyName)

	setString("CONTAINMENT_TOKENSTORE_BACKEND", &cfg.TokenStore.Backend)
	setString("CONTAINMENT_TOKENSTORE_ADDR", &cfg.TokenStore.Addr)
	setString("CONTAINMENT_TOKENSTORE_USERNAME", &cfg.TokenStore.Username)
	setString("CONTAINMENT_TOKENSTORE_PASSWORD", &cfg.TokenStore.Password)
	setInt("CONTAINMENT_TOKENSTORE_DB", &cfg.TokenStore.DB)
	setBool("CONTAINMENT_TOKENSTORE_TLS", &cfg.TokenStore.TLS)
	setDuration("CONTAINMENT_TOKENSTORE_RETENTION_GRACE", &cfg.TokenStore.RetentionGrace)

	setDuration("CONTAINMENT_APPROVAL_TTL", &cfg.Approval.TTL)
	setString("CONTAINMENT_APPROVAL_BASE_URL", &cfg.Approval.BaseURL)

	setString("CONTAINMENT_DENY_ALL_POLICY_ID", &cfg.Containment.DenyAllPolicyID)
	setString("CONTAINMENT_STATUS_TAG_KEY", &cfg.Containment.StatusTagKey)
	setString("CONTAINMENT_POLICIES_TAG_KEY", &cfg.Containment.PoliciesTagKey)
	setString("CONTAINMENT_SAMPLE_RESOURCE_ID", &cfg.Containment.SampleResourceID)

	setString("CONTAINMENT_NOTIFY_WEBHOOK_URL", &cfg.Notify.WebhookURL)
	setDuration("CONTAINMENT_NOTIFY_TIMEOUT", &cfg.Notify.Timeout)
	setInt("CONTAINMENT_NOTIFY_MAX_RETRIES", &cfg.Notify.MaxRetries)

	setString("CONTAINMENT_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("CONTAINMENT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
