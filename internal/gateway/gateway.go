// Package gateway serves point lookups against the materialized views.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lsm/streamview/internal/correlation"
	"github.com/lsm/streamview/internal/observability"
	"github.com/lsm/streamview/internal/store"
)

// RawReader is the read side of the raw view.
type RawReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// TableReader is the read side of the table view.
type TableReader interface {
	Get(ctx context.Context, key string) (any, error)
}

// Config configures the gateway handler.
type Config struct {
	Raw     RawReader
	Table   TableReader
	Metrics *observability.Metrics
	Logger  *slog.Logger

	// Compat keeps the legacy response shapes: raw errors are answered with
	// 200 and an error body, table misses with 200 and an empty body.
	Compat bool
}

// Handler serves GET /{id} from the raw view and GET /table/{id} from the
// table view. It only reads; lookups run concurrently with ingestion.
type Handler struct {
	raw     RawReader
	table   TableReader
	metrics *observability.Metrics
	logger  *slog.Logger
	compat  bool
	mux     *http.ServeMux
}

// NewHandler creates a new gateway handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		raw:     cfg.Raw,
		table:   cfg.Table,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		compat:  cfg.Compat,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /table/{id}", h.handleTable)
	h.mux.HandleFunc("GET /{id}", h.handleRaw)
	return h
}

// Routes returns the handler wrapped with request tracing.
func (h *Handler) Routes() http.Handler {
	return otelhttp.NewHandler(h, "gateway")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// LookupRaw returns the latest raw value for id, store.ErrNotFound, or a
// *store.Error.
func (h *Handler) LookupRaw(ctx context.Context, id string) ([]byte, error) {
	v, err := h.raw.Get(ctx, id)
	h.count(observability.ViewRaw, err)
	return v, err
}

// LookupTable returns the latest decoded value for id or store.ErrNotFound.
func (h *Handler) LookupTable(ctx context.Context, id string) (any, error) {
	v, err := h.table.Get(ctx, id)
	h.count(observability.ViewTable, err)
	return v, err
}

func (h *Handler) count(view string, err error) {
	if h.metrics == nil {
		return
	}
	result := observability.ResultHit
	switch {
	case errors.Is(err, store.ErrNotFound):
		result = observability.ResultNotFound
	case err != nil:
		result = observability.ResultError
	}
	h.metrics.LookupsTotal.WithLabelValues(view, result).Inc()
}

func (h *Handler) handleRaw(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := h.LookupRaw(r.Context(), id)
	if err != nil {
		h.lookupFailed(w, r, observability.ViewRaw, id, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v)
}

func (h *Handler) handleTable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := h.LookupTable(r.Context(), id)
	if err != nil {
		if h.compat && errors.Is(err, store.ErrNotFound) {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.lookupFailed(w, r, observability.ViewTable, id, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) lookupFailed(w http.ResponseWriter, r *http.Request, view, id string, err error) {
	notFound := errors.Is(err, store.ErrNotFound)
	if !notFound {
		corr := correlation.FromRequest(r)
		h.logger.Error("lookup failed",
			"view", view,
			"key", id,
			"correlation_id", corr.Value,
			"error", err,
		)
	}

	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case h.compat:
		status = http.StatusOK
	case notFound:
		status = http.StatusNotFound
		msg = "not found"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
