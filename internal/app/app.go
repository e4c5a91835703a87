// Package app assembles the agent and its dependencies from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/duckmesh/sqlagent/internal/agent"
	"github.com/duckmesh/sqlagent/internal/config"
	"github.com/duckmesh/sqlagent/internal/database"
	"github.com/duckmesh/sqlagent/internal/history"
	"github.com/duckmesh/sqlagent/internal/llm"
	"github.com/duckmesh/sqlagent/internal/llm/bedrock"
	"github.com/duckmesh/sqlagent/internal/llm/httpinvoke"
	"github.com/duckmesh/sqlagent/internal/observability"
	"github.com/duckmesh/sqlagent/internal/prompt"
	s3store "github.com/duckmesh/sqlagent/internal/storage/s3"
	"github.com/duckmesh/sqlagent/internal/tokens"
)

// Runtime owns everything an agent needs. Close releases the database.
type Runtime struct {
	Config    config.Config
	Logger    *slog.Logger
	DB        *database.SQL
	Adapter   *llm.Adapter
	Counter   *tokens.Registry
	Templates *prompt.Library
	// Archive is nil when run history is disabled.
	Archive *history.Archive
	Agent   *agent.Agent
}

type Option func(*buildOptions)

type buildOptions struct {
	transport llm.Transport
}

// WithTransport replaces the transport selected by cfg.LLM.Transport.
func WithTransport(transport llm.Transport) Option {
	return func(o *buildOptions) {
		o.transport = transport
	}
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Runtime, error) {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	var options buildOptions
	for _, opt := range opts {
		opt(&options)
	}

	transport := options.transport
	if transport == nil {
		var err error
		transport, err = NewTransport(ctx, cfg.LLM)
		if err != nil {
			return nil, err
		}
	}

	defaults := llm.DefaultSettings().With(map[string]any{"temperature": cfg.LLM.Temperature})
	adapter, err := llm.NewAdapter(transport, llm.WithDefaults(defaults), llm.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	templates, err := prompt.Open(cfg.Prompts.File)
	if err != nil {
		return nil, &agent.ConfigurationError{Reason: "load prompt templates", Err: err}
	}

	db, err := database.Open(ctx, cfg.Database.DSN, database.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Logger:          logger,
	})
	if err != nil {
		return nil, &agent.ConfigurationError{Reason: "open database", Err: err}
	}

	rt := &Runtime{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Adapter:   adapter,
		Counter:   tokens.NewRegistry(),
		Templates: templates,
	}

	if cfg.History.Enabled {
		rt.Archive, err = OpenArchive(ctx, cfg.History, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	agentOpts := agent.Options{
		LLM:          adapter,
		DB:           db,
		Templates:    templates,
		Counter:      rt.Counter,
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.Agent.MaxTokens,
		SafetyMargin: cfg.Agent.SafetyMargin,
		Dialect:      cfg.Agent.Dialect,
		Params:       cfg.LLM.Params,
		Logger:       logger,
	}
	if rt.Archive != nil {
		agentOpts.Recorder = rt.Archive
	}
	rt.Agent, err = agent.New(ctx, agentOpts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// NewTransport builds the transport named by cfg.Transport.
func NewTransport(ctx context.Context, cfg config.LLMConfig) (llm.Transport, error) {
	switch cfg.Transport {
	case config.TransportBedrock, "":
		transport, err := bedrock.New(ctx, bedrock.Config{
			Region:   cfg.Region,
			Profile:  cfg.AWSProfile,
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, &agent.ConfigurationError{Reason: "bedrock transport", Err: err}
		}
		return transport, nil
	case config.TransportHTTP:
		transport, err := httpinvoke.New(httpinvoke.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, &agent.ConfigurationError{Reason: "http transport", Err: err}
		}
		return transport, nil
	default:
		return nil, &agent.ConfigurationError{Reason: fmt.Sprintf("unknown llm transport %q", cfg.Transport)}
	}
}

func OpenArchive(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (*history.Archive, error) {
	if cfg.ObjectStore.Bucket == "" {
		return nil, &agent.ConfigurationError{Reason: "history bucket", Err: errors.New("bucket is required")}
	}
	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("open history object store: %w", err)
	}
	return history.NewArchive(store, logger)
}
