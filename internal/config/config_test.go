package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("sqlagent-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.Service.Name != "sqlagent-api" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("Database.DSN = %q, want in-memory default", cfg.Database.DSN)
	}
	if cfg.LLM.Model != "anthropic.claude-v2" {
		t.Fatalf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Transport != TransportBedrock {
		t.Fatalf("LLM.Transport = %q", cfg.LLM.Transport)
	}
	if cfg.Agent.MaxTokens != 300 {
		t.Fatalf("Agent.MaxTokens = %d", cfg.Agent.MaxTokens)
	}
	if cfg.History.Enabled {
		t.Fatal("History.Enabled should default to false")
	}
	if cfg.History.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("History.ObjectStore.Endpoint = %q", cfg.History.ObjectStore.Endpoint)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("sqlagent-api", mapLookup(map[string]string{"SQLAGENT_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.History.ObjectStore.UseSSL {
		t.Fatal("History.ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.History.ObjectStore.AutoCreateBucket {
		t.Fatal("History.ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SQLAGENT_PROFILE":                     "test",
		"SQLAGENT_SERVICE_NAME":                "sqlagent-custom",
		"SQLAGENT_HTTP_ADDR":                   ":9999",
		"SQLAGENT_HTTP_READ_TIMEOUT":           "2s",
		"SQLAGENT_HTTP_WRITE_TIMEOUT":          "3s",
		"SQLAGENT_LOG_LEVEL":                   "error",
		"SQLAGENT_AUTH_REQUIRED":               "true",
		"SQLAGENT_AUTH_STATIC_KEYS":            "k1:acme:asker",
		"SQLAGENT_DATABASE_DSN":                "postgres://example",
		"SQLAGENT_DATABASE_MAX_OPEN_CONNS":     "42",
		"SQLAGENT_DATABASE_MAX_IDLE_CONNS":     "17",
		"SQLAGENT_LLM_MODEL":                   "cohere.command-text-v14",
		"SQLAGENT_LLM_TRANSPORT":               "http",
		"SQLAGENT_LLM_BASE_URL":                "https://llm.example.com",
		"SQLAGENT_LLM_API_KEY":                 "secret-key",
		"SQLAGENT_LLM_TIMEOUT":                 "21s",
		"SQLAGENT_LLM_TEMPERATURE":             "0.3",
		"SQLAGENT_AGENT_MAX_TOKENS":            "512",
		"SQLAGENT_AGENT_SAFETY_MARGIN":         "10",
		"SQLAGENT_PROMPTS_FILE":                "/etc/sqlagent/prompts.yaml",
		"SQLAGENT_HISTORY_ENABLED":             "true",
		"SQLAGENT_HISTORY_ENDPOINT":            "s3.example.com",
		"SQLAGENT_HISTORY_BUCKET":              "sqlagent-prod",
		"SQLAGENT_HISTORY_USE_SSL":             "true",
		"SQLAGENT_HISTORY_PREFIX":              "tenant-root",
		"SQLAGENT_HISTORY_AUTO_CREATE_BUCKET":  "false",
		"SQLAGENT_DATABASE_CONN_MAX_LIFETIME":  "1h",
		"SQLAGENT_DATABASE_CONN_MAX_IDLE_TIME": "90s",
	})
	cfg, err := Load("sqlagent-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "sqlagent-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Auth.StaticKeys != "k1:acme:asker" {
		t.Fatalf("StaticKeys = %q", cfg.Auth.StaticKeys)
	}
	if cfg.Database.DSN != "postgres://example" {
		t.Fatalf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 42 || cfg.Database.MaxIdleConns != 17 {
		t.Fatalf("Database conns = %d/%d", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime != time.Hour {
		t.Fatalf("Database.ConnMaxLifetime = %s", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Database.ConnMaxIdleTime != 90*time.Second {
		t.Fatalf("Database.ConnMaxIdleTime = %s", cfg.Database.ConnMaxIdleTime)
	}
	if cfg.LLM.Model != "cohere.command-text-v14" {
		t.Fatalf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Transport != TransportHTTP {
		t.Fatalf("LLM.Transport = %q", cfg.LLM.Transport)
	}
	if cfg.LLM.BaseURL != "https://llm.example.com" {
		t.Fatalf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.APIKey != "secret-key" {
		t.Fatalf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Timeout != 21*time.Second {
		t.Fatalf("LLM.Timeout = %s", cfg.LLM.Timeout)
	}
	if cfg.LLM.Temperature != 0.3 {
		t.Fatalf("LLM.Temperature = %f", cfg.LLM.Temperature)
	}
	if cfg.Agent.MaxTokens != 512 || cfg.Agent.SafetyMargin != 10 {
		t.Fatalf("Agent = %+v", cfg.Agent)
	}
	if cfg.Prompts.File != "/etc/sqlagent/prompts.yaml" {
		t.Fatalf("Prompts.File = %q", cfg.Prompts.File)
	}
	if !cfg.History.Enabled {
		t.Fatal("History.Enabled = false, want true")
	}
	if cfg.History.ObjectStore.Endpoint != "s3.example.com" {
		t.Fatalf("History.ObjectStore.Endpoint = %q", cfg.History.ObjectStore.Endpoint)
	}
	if cfg.History.ObjectStore.Bucket != "sqlagent-prod" {
		t.Fatalf("History.ObjectStore.Bucket = %q", cfg.History.ObjectStore.Bucket)
	}
	if !cfg.History.ObjectStore.UseSSL {
		t.Fatal("History.ObjectStore.UseSSL = false, want true")
	}
	if cfg.History.ObjectStore.AutoCreateBucket {
		t.Fatal("History.ObjectStore.AutoCreateBucket = true, want false")
	}
	if cfg.History.ObjectStore.Prefix != "tenant-root" {
		t.Fatalf("History.ObjectStore.Prefix = %q", cfg.History.ObjectStore.Prefix)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"SQLAGENT_PROFILE": "oops"},
		{"SQLAGENT_HTTP_READ_TIMEOUT": "NaN"},
		{"SQLAGENT_DATABASE_MAX_OPEN_CONNS": "oops"},
		{"SQLAGENT_LLM_TEMPERATURE": "bad"},
		{"SQLAGENT_LLM_TRANSPORT": "grpc"},
		{"SQLAGENT_LLM_TRANSPORT": "http"},
		{"SQLAGENT_LLM_MODEL": " "},
		{"SQLAGENT_AGENT_MAX_TOKENS": "0"},
		{"SQLAGENT_AGENT_SAFETY_MARGIN": "-1"},
		{"SQLAGENT_HISTORY_ENABLED": "true", "SQLAGENT_HISTORY_BUCKET": ""},
		{"SQLAGENT_AUTH_REQUIRED": "not-bool"},
		{"SQLAGENT_LOG_LEVEL": "verbose"},
		{"SQLAGENT_LLM_PARAMS": "[1, 2]"},
		{"SQLAGENT_LLM_PARAMS": "top_k: [unclosed"},
		{"SQLAGENT_LLM_PARAMS": "~"},
	}
	for _, env := range tests {
		_, err := Load("sqlagent-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadLLMParamsAndDialect(t *testing.T) {
	cfg, err := Load("sqlagent", mapLookup(map[string]string{
		"SQLAGENT_LLM_PARAMS":    `{"top_k": 10, "stop": ["\n\nHuman:"], "countPenalty": {"scale": 1}}`,
		"SQLAGENT_AGENT_DIALECT": " PostgreSQL ",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.LLM.Params["top_k"]; got != 10 {
		t.Fatalf("Params[top_k] = %#v", got)
	}
	if _, ok := cfg.LLM.Params["stop"].([]any); !ok {
		t.Fatalf("Params[stop] = %#v", cfg.LLM.Params["stop"])
	}
	penalty, ok := cfg.LLM.Params["countPenalty"].(map[string]any)
	if !ok || penalty["scale"] != 1 {
		t.Fatalf("Params[countPenalty] = %#v", cfg.LLM.Params["countPenalty"])
	}
	if cfg.Agent.Dialect != "PostgreSQL" {
		t.Fatalf("Agent.Dialect = %q", cfg.Agent.Dialect)
	}

	cfg, err = Load("sqlagent", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Params != nil || cfg.Agent.Dialect != "" {
		t.Fatalf("defaults: Params = %#v Dialect = %q", cfg.LLM.Params, cfg.Agent.Dialect)
	}
}

func TestLoadRequiresLookup(t *testing.T) {
	if _, err := Load("sqlagent", nil); err == nil {
		t.Fatal("expected error for nil lookup")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
