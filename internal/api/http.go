package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prohosp/flow-monitor/internal/charts"
	"github.com/prohosp/flow-monitor/internal/engine"
	"github.com/prohosp/flow-monitor/internal/services"
)

const maxRequestBytes = 1 << 20

// Dashboard is the service surface behind the HTTP API.
type Dashboard interface {
	Dashboard() services.View
	Refresh(ctx context.Context) (services.View, error)
	Summary(ctx context.Context) services.Reply
	Predict(ctx context.Context, body []byte) services.Reply
}

// NewRouter builds the HTTP API around svc.
func NewRouter(svc Dashboard, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard_summary", h.summary)
		r.Post("/predict", h.predict)
		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/", h.dashboard)
			r.Post("/refresh", h.refresh)
			r.Get("/charts/{chart}.png", h.chart)
		})
	})
	return r
}

type handlers struct {
	svc    Dashboard
	logger *slog.Logger
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	writeReply(w, h.svc.Summary(r.Context()))
}

func (h *handlers) predict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, services.Message{Message: "no se pudo leer la solicitud"})
		return
	}
	writeReply(w, h.svc.Predict(r.Context(), body))
}

func (h *handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Dashboard())
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Refresh(r.Context())
	if errors.Is(err, engine.ErrStopped) {
		writeJSON(w, http.StatusServiceUnavailable, services.Message{Message: "el monitor está detenido"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) chart(w http.ResponseWriter, r *http.Request) {
	view := h.svc.Dashboard()

	var buf bytes.Buffer
	var err error
	switch chi.URLParam(r, "chart") {
	case "confidence":
		err = charts.ConfidenceTrend(&buf, view.Series)
	case "risk":
		err = charts.RiskDistribution(&buf, view.Derived.RiskRatio)
	case "confidence-ratio":
		err = charts.ConfidenceDistribution(&buf, view.Derived.ConfidenceRatio)
	default:
		writeJSON(w, http.StatusNotFound, services.Message{Message: "gráfico desconocido"})
		return
	}
	if err != nil {
		h.logger.Error("chart render failed", slog.String("chart", chi.URLParam(r, "chart")), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, services.Message{Message: "no se pudo generar el gráfico"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func writeReply(w http.ResponseWriter, reply services.Reply) {
	if reply.Body != nil {
		w.Header().Set("Content-Type", reply.ContentType)
		w.WriteHeader(reply.Status)
		_, _ = w.Write(reply.Body)
		return
	}
	writeJSON(w, reply.Status, reply.Value)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
