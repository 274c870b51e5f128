package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prohosp/flow-monitor/internal/engine"
	"github.com/prohosp/flow-monitor/internal/models"
	"github.com/prohosp/flow-monitor/internal/repo"
	"github.com/prohosp/flow-monitor/internal/store"
)

type engineStub struct {
	snapshot   engine.Snapshot
	refreshErr error
	refreshed  int
}

func (e *engineStub) Read() engine.Snapshot { return e.snapshot }

func (e *engineStub) Refresh(ctx context.Context) error {
	e.refreshed++
	return e.refreshErr
}

type upstreamStub struct {
	configured bool
	summary    models.Summary
	summaryErr error
	resp       repo.UpstreamResponse
	forwardErr error
	forwarded  []byte
}

func (u *upstreamStub) Configured() bool { return u.configured }

func (u *upstreamStub) FetchSummary(ctx context.Context) (models.Summary, error) {
	return u.summary, u.summaryErr
}

func (u *upstreamStub) ForwardPrediction(ctx context.Context, body []byte) (repo.UpstreamResponse, error) {
	u.forwarded = body
	return u.resp, u.forwardErr
}

func messageOf(t *testing.T, reply Reply) string {
	t.Helper()
	msg, ok := reply.Value.(Message)
	if !ok {
		t.Fatalf("expected message reply, got %#v", reply.Value)
	}
	return msg.Message
}

func TestDashboardDerivesOnRead(t *testing.T) {
	risk := 1
	confidence := 87.0
	updated := "2024-04-18T10:29:00"
	stub := &engineStub{snapshot: engine.Snapshot{
		State: store.State{Summary: models.Summary{
			LastInput:  map[string]any{"Illness_Severity": "Severe"},
			LastOutput: &models.Output{NivelRiesgo: &risk, ConfianzaModelo: &confidence},
			UpdatedAt:  &updated,
		}},
		Phase: "polling",
	}}
	advisories, _ := engine.NewAdvisoryEngine("", nil)
	service := NewDashboardService(nil, stub, &upstreamStub{}, advisories)
	service.now = func() time.Time { return time.Date(2024, 4, 18, 10, 30, 0, 0, time.Local) }

	view := service.Dashboard()
	if view.Derived.Risk.Label != "ALTO" || view.Derived.Severity.Label != "ALTA" {
		t.Fatalf("unexpected derived labels: %+v", view.Derived)
	}
	if view.Derived.Confidence != "87.0%" || view.Derived.UpdatedAgo != "hace 1 min" {
		t.Fatalf("unexpected derived display values: %+v", view.Derived)
	}
	if len(view.Advisories) == 0 || view.Advisories[0].ID != "bed-block-risk" {
		t.Fatalf("expected bed-block advisory, got %+v", view.Advisories)
	}
}

func TestRefresh(t *testing.T) {
	stub := &engineStub{refreshErr: errors.New("timeout")}
	service := NewDashboardService(nil, stub, &upstreamStub{}, nil)
	if _, err := service.Refresh(context.Background()); err != nil {
		t.Fatalf("cycle failures must be embedded in the view, got %v", err)
	}

	stub.refreshErr = engine.ErrStopped
	if _, err := service.Refresh(context.Background()); !errors.Is(err, engine.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if stub.refreshed != 2 {
		t.Fatalf("expected two refreshes, got %d", stub.refreshed)
	}
}

func TestRefreshAbandonedByCallerKeepsDashboardClean(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"last_input":null,"last_output":null,"updated_at":null}`))
	}))
	defer upstream.Close()

	client := repo.NewPredictionClient(upstream.URL, "/dashboard_summary", "/ingest_hospital", time.Second)
	eng := engine.New(client)
	service := NewDashboardService(nil, eng, client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	view, err := service.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if view.Error != "" {
		t.Fatalf("caller abort surfaced as upstream failure: %q", view.Error)
	}

	if _, err := service.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if state := eng.Read(); state.Error != "" || state.Loading {
		t.Fatalf("expected a clean applied cycle, got %+v", state.State)
	}
}

func TestPredict(t *testing.T) {
	tests := []struct {
		name       string
		upstream   *upstreamStub
		body       string
		wantStatus int
		wantMsg    string
		wantBody   string
	}{
		{
			name:       "not configured",
			upstream:   &upstreamStub{},
			body:       `{}`,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "FASTAPI_URL no está configurado",
		},
		{
			name:       "invalid body",
			upstream:   &upstreamStub{configured: true},
			body:       `{"Age":`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    msgInvalidBody,
		},
		{
			name:       "upstream detail",
			upstream:   &upstreamStub{configured: true, resp: repo.UpstreamResponse{Status: 422, Body: []byte(`{"detail":"Bed_Grade inválido"}`)}},
			body:       `{"Bed_Grade":"x"}`,
			wantStatus: 422,
			wantMsg:    "Bed_Grade inválido",
		},
		{
			name:       "upstream without detail",
			upstream:   &upstreamStub{configured: true, resp: repo.UpstreamResponse{Status: 503, Body: []byte(`oops`)}},
			body:       `{}`,
			wantStatus: 503,
			wantMsg:    "Error en FastAPI",
		},
		{
			name:       "transport failure",
			upstream:   &upstreamStub{configured: true, forwardErr: errors.New("dial tcp: refused")},
			body:       `{}`,
			wantStatus: http.StatusBadGateway,
			wantMsg:    "Error interno",
		},
		{
			name:       "success passes through",
			upstream:   &upstreamStub{configured: true, resp: repo.UpstreamResponse{Status: 200, ContentType: "application/json", Body: []byte(`{"dias_estimados":3}`)}},
			body:       `{"Age":"41-50"}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"dias_estimados":3}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewDashboardService(nil, &engineStub{}, tt.upstream, nil)
			reply := service.Predict(context.Background(), []byte(tt.body))
			if reply.Status != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, reply.Status)
			}
			if tt.wantMsg != "" && messageOf(t, reply) != tt.wantMsg {
				t.Fatalf("expected message %q, got %q", tt.wantMsg, messageOf(t, reply))
			}
			if tt.wantBody != "" && string(reply.Body) != tt.wantBody {
				t.Fatalf("expected body %s, got %s", tt.wantBody, reply.Body)
			}
		})
	}
}

func TestPredictNotConfiguredSkipsUpstream(t *testing.T) {
	upstream := &upstreamStub{}
	service := NewDashboardService(nil, &engineStub{}, upstream, nil)
	service.Predict(context.Background(), []byte(`{}`))
	if upstream.forwarded != nil {
		t.Fatalf("upstream must not be called when unconfigured")
	}
}

func TestSummaryProxy(t *testing.T) {
	confidence := 90.0
	tests := []struct {
		name       string
		upstream   *upstreamStub
		wantStatus int
		wantMsg    string
	}{
		{"not configured", &upstreamStub{}, http.StatusInternalServerError, "FASTAPI_URL no está configurado"},
		{"upstream error", &upstreamStub{configured: true, summaryErr: &repo.UpstreamError{Status: 404, Message: "Not Found"}}, 404, "Not Found"},
		{"malformed", &upstreamStub{configured: true, summaryErr: &repo.MalformedResponseError{Err: errors.New("bad json")}}, http.StatusBadGateway, "Error en FastAPI"},
		{"success", &upstreamStub{configured: true, summary: models.Summary{LastOutput: &models.Output{ConfianzaModelo: &confidence}}}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewDashboardService(nil, &engineStub{}, tt.upstream, nil)
			reply := service.Summary(context.Background())
			if reply.Status != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, reply.Status)
			}
			if tt.wantMsg != "" && messageOf(t, reply) != tt.wantMsg {
				t.Fatalf("expected message %q, got %q", tt.wantMsg, messageOf(t, reply))
			}
			if tt.wantMsg == "" {
				if _, ok := reply.Value.(models.Summary); !ok {
					t.Fatalf("expected summary value, got %#v", reply.Value)
				}
			}
		})
	}
}

func TestDashboardReportsOutliers(t *testing.T) {
	series := make([]models.HistorySample, 0, 12)
	for i := 0; i < 11; i++ {
		series = append(series, models.HistorySample{Label: "10:30:00", Confidence: 88 + float64(i%3)})
	}
	series = append(series, models.HistorySample{Label: "10:31:28", Confidence: 35})

	stub := &engineStub{snapshot: engine.Snapshot{Series: series}}
	view := NewDashboardService(nil, stub, &upstreamStub{}, nil).Dashboard()
	if len(view.Outliers) != 1 || view.Outliers[0].Confidence != 35 {
		t.Fatalf("expected the 35%% sample as outlier, got %+v", view.Outliers)
	}
}
