package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	TransportBedrock = "bedrock"
	TransportHTTP    = "http"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	LLM           LLMConfig
	Agent         AgentConfig
	Prompts       PromptsConfig
	History       HistoryConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig describes the database questions are answered against. An
// empty DSN opens an in-memory SQLite database.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type LLMConfig struct {
	Model       string
	Transport   string
	Region      string
	AWSProfile  string
	Endpoint    string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	Temperature float64
	// Params are extra request parameters sent with every agent call, parsed
	// from a YAML or JSON mapping.
	Params map[string]any
}

// AgentConfig tunes the agent. An empty Dialect leaves the prompt's dialect
// at the agent default.
type AgentConfig struct {
	MaxTokens    int
	SafetyMargin int
	Dialect      string
}

type PromptsConfig struct {
	File string
}

type HistoryConfig struct {
	Enabled     bool
	ObjectStore ObjectStoreConfig
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SQLAGENT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SQLAGENT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "SQLAGENT_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLAGENT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLAGENT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLAGENT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_DATABASE_DSN", &cfg.Database.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLAGENT_DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLAGENT_DATABASE_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLAGENT_DATABASE_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLAGENT_DATABASE_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_LLM_MODEL", &cfg.LLM.Model); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_LLM_TRANSPORT", &cfg.LLM.Transport); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_LLM_REGION", &cfg.LLM.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_LLM_AWS_PROFILE", &cfg.LLM.AWSProfile); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_LLM_ENDPOINT", &cfg.LLM.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_LLM_BASE_URL", &cfg.LLM.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_LLM_API_KEY", &cfg.LLM.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLAGENT_LLM_TIMEOUT", &cfg.LLM.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "SQLAGENT_LLM_TEMPERATURE", &cfg.LLM.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyParams(lookup, "SQLAGENT_LLM_PARAMS", &cfg.LLM.Params); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLAGENT_AGENT_MAX_TOKENS", &cfg.Agent.MaxTokens); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLAGENT_AGENT_SAFETY_MARGIN", &cfg.Agent.SafetyMargin); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_AGENT_DIALECT", &cfg.Agent.Dialect); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_PROMPTS_FILE", &cfg.Prompts.File); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLAGENT_HISTORY_ENABLED", &cfg.History.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_HISTORY_ENDPOINT", &cfg.History.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_HISTORY_REGION", &cfg.History.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_HISTORY_BUCKET", &cfg.History.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_HISTORY_ACCESS_KEY", &cfg.History.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_HISTORY_SECRET_KEY", &cfg.History.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLAGENT_HISTORY_USE_SSL", &cfg.History.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_HISTORY_PREFIX", &cfg.History.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLAGENT_HISTORY_AUTO_CREATE_BUCKET", &cfg.History.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLAGENT_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "SQLAGENT_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLAGENT_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLAGENT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. It is called by Load and again by
// callers that override fields after loading (CLI flags).
func (c Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return fmt.Errorf("llm model is required")
	}
	switch c.LLM.Transport {
	case TransportBedrock:
	case TransportHTTP:
		if strings.TrimSpace(c.LLM.BaseURL) == "" {
			return fmt.Errorf("llm base URL is required for the http transport")
		}
	default:
		return fmt.Errorf("invalid llm transport %q: expected %q or %q", c.LLM.Transport, TransportBedrock, TransportHTTP)
	}
	if c.Agent.MaxTokens <= 0 {
		return fmt.Errorf("agent max tokens must be > 0")
	}
	if c.Agent.SafetyMargin < 0 {
		return fmt.Errorf("agent safety margin must be >= 0")
	}
	if c.History.Enabled && strings.TrimSpace(c.History.ObjectStore.Bucket) == "" {
		return fmt.Errorf("history bucket is required when history is enabled")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sqlagent"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    4,
			MaxIdleConns:    4,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		LLM: LLMConfig{
			Model:       "anthropic.claude-v2",
			Transport:   TransportBedrock,
			Region:      "us-east-1",
			Timeout:     60 * time.Second,
			Temperature: 1,
		},
		Agent: AgentConfig{
			MaxTokens:    300,
			SafetyMargin: 64,
		},
		History: HistoryConfig{
			Enabled: false,
			ObjectStore: ObjectStoreConfig{
				Endpoint:         "localhost:9000",
				Region:           "us-east-1",
				Bucket:           "sqlagent",
				AccessKeyID:      "minio",
				SecretAccessKey:  "miniostorage",
				UseSSL:           false,
				Prefix:           "runs",
				AutoCreateBucket: true,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.LLM.Timeout = 5 * time.Second
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.History.ObjectStore.UseSSL = true
		cfg.History.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyParams(lookup LookupFunc, key string, dst *map[string]any) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var value map[string]any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if value == nil {
		return fmt.Errorf("invalid %s: expected a mapping", key)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
