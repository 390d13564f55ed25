// Package admin serves the administrative HTTP endpoints of the plugin:
// health, the active features, reloads and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/newplayerperks/npp/plugin/config"
	"github.com/newplayerperks/npp/plugin/lifecycle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler wires the admin endpoints to a lifecycle controller.
type Handler[B any] struct {
	ctrl     *lifecycle.Controller[B]
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// New constructs a Handler. If gatherer is nil, /metrics is not served.
func New[B any](ctrl *lifecycle.Controller[B], gatherer prometheus.Gatherer, log *slog.Logger) *Handler[B] {
	if log == nil {
		log = slog.Default()
	}
	return &Handler[B]{ctrl: ctrl, gatherer: gatherer, log: log.With("subsystem", "admin")}
}

// Register mounts the admin endpoints on the router.
func (h *Handler[B]) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Get("/features", h.HandleFeatures)
	r.Post("/reload", h.HandleReload)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

// Router returns a router with every admin endpoint mounted.
func (h *Handler[B]) Router() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Serve listens on addr and serves the admin endpoints until ctx is
// cancelled, after which the server is shut down gracefully.
func (h *Handler[B]) Serve(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen admin: %w", err)
	}
	return h.serve(ctx, l)
}

func (h *Handler[B]) serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(l)
	}()
	h.log.Info("Admin endpoints listening.", "address", l.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown admin: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status     string `json:"status"`
	State      string `json:"state"`
	Generation uint64 `json:"generation"`
}

// HandleHealth handles GET /healthz. It responds 200 while features are
// loaded and 503 otherwise.
func (h *Handler[B]) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	state := h.ctrl.State()
	resp := healthResponse{Status: "ok", State: state.String(), Generation: h.ctrl.Snapshot().Generation()}
	status := http.StatusOK
	if state != lifecycle.StateActive && state != lifecycle.StateReloading {
		resp.Status, status = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type featureResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Enabled     bool   `json:"enabled"`
	Permission  string `json:"permission"`
	Fingerprint string `json:"fingerprint"`
}

type featuresResponse struct {
	Generation uint64            `json:"generation"`
	Source     string            `json:"source"`
	Period     string            `json:"period"`
	Locale     string            `json:"locale"`
	Features   []featureResponse `json:"features"`
}

// HandleFeatures handles GET /features.
func (h *Handler[B]) HandleFeatures(w http.ResponseWriter, _ *http.Request) {
	snap := h.ctrl.Snapshot()
	resp := featuresResponse{
		Generation: snap.Generation(),
		Source:     snap.Source(),
		Period:     snap.Period().String(),
		Locale:     snap.Locale().String(),
		Features:   make([]featureResponse, 0, snap.Len()),
	}
	for inst := range snap.All() {
		resp.Features = append(resp.Features, featureResponse{
			ID:          inst.ID(),
			Kind:        inst.Kind(),
			Enabled:     inst.Enabled(),
			Permission:  inst.PermissionNode().String(),
			Fingerprint: fmt.Sprintf("%016x", inst.Fingerprint()),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type reportResponse struct {
	Operation  string   `json:"operation"`
	OK         bool     `json:"ok"`
	Generation uint64   `json:"generation"`
	Source     string   `json:"source"`
	Activated  []string `json:"activated"`
	Added      []string `json:"added,omitempty"`
	Removed    []string `json:"removed,omitempty"`
	Changed    []string `json:"changed,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

func fromReport(r lifecycle.Report) reportResponse {
	resp := reportResponse{
		Operation:  r.Operation,
		OK:         r.OK(),
		Generation: r.Generation,
		Source:     r.Source,
		Activated:  r.Activated,
		Added:      r.Added,
		Removed:    r.Removed,
		Changed:    r.Changed,
		Warnings:   r.Warnings,
		DurationMS: r.Duration.Milliseconds(),
	}
	if resp.Activated == nil {
		resp.Activated = []string{}
	}
	for _, err := range r.Errors {
		resp.Errors = append(resp.Errors, err.Error())
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

// HandleReload handles POST /reload. It responds 200 with the report when a
// new snapshot was published, 422 when the document could not be loaded and
// 409 when the controller is not active.
func (h *Handler[B]) HandleReload(w http.ResponseWriter, r *http.Request) {
	report, err := h.ctrl.Reload(r.Context())
	status := http.StatusOK
	var failure *config.LoadFailure
	switch {
	case err == nil:
	case errors.As(err, &failure):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, lifecycle.ErrNotActive), errors.Is(err, lifecycle.ErrStopped):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	h.log.Info("Reload requested.", "remote", r.RemoteAddr, "status", status, "generation", report.Generation)
	writeJSON(w, status, fromReport(report))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
