package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prohosp/flow-monitor/internal/derive"
	"github.com/prohosp/flow-monitor/internal/engine"
	"github.com/prohosp/flow-monitor/internal/metrics"
	"github.com/prohosp/flow-monitor/internal/models"
	"github.com/prohosp/flow-monitor/internal/repo"
	"github.com/prohosp/flow-monitor/internal/trend"
	"github.com/prohosp/flow-monitor/internal/utils"
)

const (
	msgNotConfigured  = "FASTAPI_URL no está configurado"
	msgUpstreamFailed = "Error en FastAPI"
	msgInternal       = "Error interno"
	msgInvalidBody    = "El cuerpo de la solicitud no es JSON válido"
)

// SummaryEngine is the engine surface the dashboard reads and refreshes.
type SummaryEngine interface {
	Read() engine.Snapshot
	Refresh(ctx context.Context) error
}

// PredictionUpstream is the prediction service client surface.
type PredictionUpstream interface {
	Configured() bool
	FetchSummary(ctx context.Context) (models.Summary, error)
	ForwardPrediction(ctx context.Context, body []byte) (repo.UpstreamResponse, error)
}

// View is the read model served to dashboards.
type View struct {
	engine.Snapshot
	Derived    derive.Dashboard  `json:"derived"`
	Advisories []engine.Advisory `json:"advisories"`
	Outliers   []trend.Deviation `json:"outliers"`
}

// Reply is an HTTP-shaped result: a status plus either raw bytes or a value to encode.
type Reply struct {
	Status      int
	ContentType string
	Body        []byte
	Value       any
}

// Message is the error envelope returned to callers.
type Message struct {
	Message string `json:"message"`
}

// DashboardService joins the engine, advisory rules and the prediction proxy.
type DashboardService struct {
	logger     *slog.Logger
	engine     SummaryEngine
	upstream   PredictionUpstream
	advisories *engine.AdvisoryEngine
	now        func() time.Time
	latencies  *utils.LatencyTracker
}

// NewDashboardService constructs the dashboard facade.
func NewDashboardService(logger *slog.Logger, eng SummaryEngine, upstream PredictionUpstream, advisories *engine.AdvisoryEngine) *DashboardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardService{
		logger:     logger,
		engine:     eng,
		upstream:   upstream,
		advisories: advisories,
		now:        time.Now,
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// Dashboard returns the current snapshot with derived values and advisories.
// Derived values are recomputed on every call.
func (s *DashboardService) Dashboard() View {
	snapshot := s.engine.Read()
	return View{
		Snapshot:   snapshot,
		Derived:    derive.Compute(snapshot.Summary, s.now()),
		Advisories: s.advisories.Evaluate(snapshot.State, snapshot.Series),
		Outliers:   trend.Detect(snapshot.Series, trend.DefaultThreshold),
	}
}

// Refresh runs one out-of-band cycle and returns the resulting view. A
// failed cycle is reported inside the view, not as an error. Only a stopped
// engine yields an error.
func (s *DashboardService) Refresh(ctx context.Context) (View, error) {
	err := s.engine.Refresh(ctx)
	if errors.Is(err, engine.ErrStopped) {
		return View{}, err
	}
	if err != nil && !errors.Is(err, engine.ErrStaleCompletion) {
		s.logger.Debug("manual refresh failed", slog.Any("error", err))
	}
	return s.Dashboard(), nil
}

// Summary fetches the upstream summary directly, bypassing the engine.
func (s *DashboardService) Summary(ctx context.Context) Reply {
	if !s.upstream.Configured() {
		return messageReply(http.StatusInternalServerError, msgNotConfigured)
	}

	summary, err := s.upstream.FetchSummary(ctx)
	if err == nil {
		return Reply{Status: http.StatusOK, Value: summary}
	}

	var upstreamErr *repo.UpstreamError
	var malformed *repo.MalformedResponseError
	switch {
	case errors.As(err, &upstreamErr):
		return messageReply(upstreamErr.Status, upstreamErr.Message)
	case errors.As(err, &malformed):
		return messageReply(http.StatusBadGateway, msgUpstreamFailed)
	default:
		s.logger.Warn("dashboard summary proxy failed", slog.Any("error", err))
		return messageReply(http.StatusBadGateway, utils.UserMessage(err, msgInternal))
	}
}

// Predict forwards a feature payload to the prediction service. Successful
// replies pass through unchanged; failures are reduced to {message}.
func (s *DashboardService) Predict(ctx context.Context, body []byte) Reply {
	if !s.upstream.Configured() {
		metrics.ObservePredict(metrics.OutcomeError)
		return messageReply(http.StatusInternalServerError, msgNotConfigured)
	}
	if !json.Valid(body) {
		metrics.ObservePredict(metrics.OutcomeError)
		return messageReply(http.StatusBadRequest, msgInvalidBody)
	}

	start := time.Now()
	resp, err := s.upstream.ForwardPrediction(ctx, body)
	duration := time.Since(start)
	if err != nil {
		metrics.ObservePredict(metrics.OutcomeError)
		s.logger.Error("prediction forward failed", slog.Any("error", err))
		return messageReply(http.StatusBadGateway, msgInternal)
	}
	if !resp.OK() {
		metrics.ObservePredict(metrics.OutcomeError)
		s.logger.Warn("prediction service rejected payload", slog.Int("status", resp.Status))
		return messageReply(resp.Status, repo.ErrorMessage(resp.Body, msgUpstreamFailed))
	}

	metrics.ObservePredict(metrics.OutcomeSuccess)
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("prediction latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	return Reply{Status: resp.Status, ContentType: contentType, Body: resp.Body}
}

func messageReply(status int, message string) Reply {
	return Reply{Status: status, Value: Message{Message: message}}
}
