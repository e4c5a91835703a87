package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckmesh/sqlagent/internal/agent"
	"github.com/duckmesh/sqlagent/internal/auth"
	"github.com/duckmesh/sqlagent/internal/config"
	"github.com/duckmesh/sqlagent/internal/database"
	"github.com/duckmesh/sqlagent/internal/history"
	"github.com/duckmesh/sqlagent/internal/observability"
	"github.com/duckmesh/sqlagent/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

// Asker is the part of *agent.Agent the HTTP surface needs.
type Asker interface {
	AskDetailed(ctx context.Context, question string) (agent.Run, error)
	Schema() database.Schema
	Model() string
}

type HistoryReader interface {
	List(ctx context.Context, day time.Time) ([]storage.ObjectInfo, error)
	Load(ctx context.Context, key string) ([]history.Entry, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	// AskTimeout bounds one POST /v1/ask; zero leaves it to the client.
	AskTimeout time.Duration
	Agent      Asker
	History    HistoryReader
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.Handle("POST /v1/ask", auth.RequireRole(auth.RoleAsker, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})))
	protected.Handle("GET /v1/schema", auth.RequireRole(auth.RoleSchemaReader, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})))
	protected.Handle("GET /v1/history", auth.RequireRole(auth.RoleAsker, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleListHistory(deps, w, r)
	})))
	protected.Handle("GET /v1/history/{key...}", auth.RequireRole(auth.RoleAsker, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleGetHistory(deps, w, r)
	})))

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/ask", protectedHandler)
	mux.Handle("GET /v1/schema", protectedHandler)
	mux.Handle("GET /v1/history", protectedHandler)
	mux.Handle("GET /v1/history/{key...}", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares,
			observability.LoggingMiddleware(deps.Logger),
			observability.RecoverMiddleware(deps.Logger),
		)
	}
	return observability.Chain(mux, middlewares...)
}

// CheckDatabase reports the database as ready when it can still produce its
// schema.
func CheckDatabase(db database.Database) ReadinessCheck {
	return func(ctx context.Context) error {
		if db == nil {
			return errors.New("database is not configured")
		}
		if _, err := db.Schema(ctx); err != nil {
			return err
		}
		return nil
	}
}

func CheckHistoryConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.History.Enabled {
			return nil
		}
		if cfg.History.ObjectStore.Endpoint == "" {
			return errors.New("history object store endpoint is not configured")
		}
		if cfg.History.ObjectStore.Bucket == "" {
			return errors.New("history object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
