package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	_ "modernc.org/sqlite"

	"github.com/lox/weatherlanding/internal/api"
	"github.com/lox/weatherlanding/internal/models"
	"github.com/lox/weatherlanding/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db, zaptest.NewLogger(t))
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

func completeRun(t *testing.T, s *store.Store, id string, started time.Time, runErr error) {
	t.Helper()
	r := &models.RunReport{
		ID:          id,
		Address:     "1600 Amphitheatre Parkway",
		Timestamp:   models.NewRunTimestamp(started),
		Attempt:     1,
		StartedAt:   started,
		FinishedAt:  started.Add(time.Second),
		Coordinates: models.Coordinates{Latitude: "37.4224764", Longitude: "-122.0842499"},
		Err:         runErr,
	}
	outcome := models.OutcomeWritten
	if runErr != nil {
		outcome = models.OutcomeFailed
	}
	r.Branches = []models.BranchResult{
		{Source: models.SourceWeather, Container: "weather-data-landing-bucket", Healthy: true,
			Outcome: outcome, Stage: "load", Key: "weather_data_x.csv", Flags: []string{"humidity_invalid"}},
		{Source: models.SourceAirQuality, Container: "aqi-data-landing-bucket", Outcome: models.OutcomeSkipped, Stage: "probe"},
	}
	if err := s.CompleteRun(context.Background(), r); err != nil {
		t.Fatal(err)
	}
}

func get(t *testing.T, srv *api.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, ":8080", zaptest.NewLogger(t))

	w := get(t, srv, "/health")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, `"status"`) {
		t.Error("expected status field in JSON response")
	}
}

func TestHealthEndpoint_Archive(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()
	for i, body := range []string{`{"a":1}`, `{"a":2}`, `{"list":[]}`} {
		src := models.SourceWeather
		if i == 2 {
			src = models.SourceAirQuality
		}
		if err := s.SaveRawPayload(ctx, "run-1", models.RawResponse{Source: src, Body: []byte(body)}); err != nil {
			t.Fatal(err)
		}
	}

	srv := api.NewServer(s, ":8080", zaptest.NewLogger(t))
	w := get(t, srv, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}

	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Database != "ok" {
		t.Errorf("database = %q, want ok", health.Database)
	}
	if health.Archive == nil || health.Archive.Payloads != 3 || health.Archive.SizeBytes <= 0 {
		t.Fatalf("archive = %+v", health.Archive)
	}
	if health.Archive.BySource["weather"] != 2 || health.Archive.BySource["aqi"] != 1 {
		t.Errorf("by_source = %v", health.Archive.BySource)
	}
}

// unreachableStore serves runs but fails Ping.
type unreachableStore struct {
	*store.Store
}

func (unreachableStore) Ping(context.Context) error {
	return errors.New("disk I/O error")
}

func TestHealthEndpoint_DatabaseUnreachable(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	completeRun(t, s, "run-1", time.Now().UTC().Add(-3*time.Hour), nil)

	srv := api.NewServer(unreachableStore{s}, ":8080", zaptest.NewLogger(t))
	w := get(t, srv, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "error" {
		t.Errorf("status = %q, want error to outrank a stale run", health.Status)
	}
	if health.Database != "unreachable" {
		t.Errorf("database = %q", health.Database)
	}
	if len(health.Errors) != 1 || health.Errors[0] != "database: disk I/O error" {
		t.Errorf("errors = %v", health.Errors)
	}
}

type fixedSchedule time.Time

func (f fixedSchedule) Next() time.Time { return time.Time(f) }

func TestHealthEndpoint_RecentSuccess(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	completeRun(t, s, "run-1", time.Now().UTC().Add(-10*time.Minute), nil)

	srv := api.NewServer(s, ":8080", zaptest.NewLogger(t))
	next := time.Now().Add(50 * time.Minute).UTC().Truncate(time.Second)
	srv.SetSchedule(fixedSchedule(next))

	w := get(t, srv, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}

	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.LastRun == nil || health.LastRun.ID != "run-1" {
		t.Fatalf("last_run = %+v", health.LastRun)
	}
	if !health.LastRun.Finished || !health.LastRun.Success || health.LastRun.Stale {
		t.Errorf("last_run = %+v", health.LastRun)
	}
	if health.NextRun == nil || !health.NextRun.Equal(next) {
		t.Errorf("next_run = %v, want %v", health.NextRun, next)
	}
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		age        time.Duration
		err        error
		staleAfter time.Duration
		wantStale  bool
	}{
		{name: "failed run", age: 5 * time.Minute, err: errors.New("weather branch failed at load")},
		{name: "stale run", age: 3 * time.Hour, wantStale: true},
		{name: "custom threshold", age: 20 * time.Minute, staleAfter: 15 * time.Minute, wantStale: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestStore(t)
			completeRun(t, s, "run-1", time.Now().UTC().Add(-tt.age), tt.err)

			srv := api.NewServer(s, ":8080", zaptest.NewLogger(t))
			srv.SetStaleAfter(tt.staleAfter)

			w := get(t, srv, "/health")
			if w.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503, got %d", w.Code)
			}
			var health api.HealthStatus
			if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
				t.Fatal(err)
			}
			if health.Status != "degraded" {
				t.Errorf("status = %q, want degraded", health.Status)
			}
			if health.LastRun.Stale != tt.wantStale {
				t.Errorf("stale = %v, want %v", health.LastRun.Stale, tt.wantStale)
			}
			if tt.err != nil && (len(health.Errors) != 1 || health.Errors[0] != tt.err.Error()) {
				t.Errorf("errors = %v", health.Errors)
			}
		})
	}
}

type brokenSource struct{}

func (brokenSource) Ping(context.Context) error {
	return errors.New("database is locked")
}

func (brokenSource) GetRawPayloadStats(context.Context) (*store.RawPayloadStats, error) {
	return nil, errors.New("database is locked")
}

func (brokenSource) LastRun(context.Context) (*store.RunRecord, error) {
	return nil, errors.New("database is locked")
}

func (brokenSource) RecentRuns(context.Context, int) ([]store.RunRecord, error) {
	return nil, errors.New("database is locked")
}

func (brokenSource) GetRunHealth(context.Context, int) ([]store.RunHealthSummary, error) {
	return nil, errors.New("database is locked")
}

func TestEndpoints_StoreError(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(brokenSource{}, ":8080", zaptest.NewLogger(t))

	w := get(t, srv, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/health: expected 503, got %d", w.Code)
	}
	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "error" || health.Database != "unreachable" || health.Archive != nil {
		t.Errorf("health = %+v", health)
	}
	if len(health.Errors) != 3 {
		t.Errorf("errors = %v, want database, archive and last run", health.Errors)
	}

	for _, path := range []string{"/api/runs", "/api/runs/health"} {
		if w := get(t, srv, path); w.Code != http.StatusInternalServerError {
			t.Errorf("%s: expected 500, got %d", path, w.Code)
		}
	}
}

func TestRunsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	base := time.Now().UTC().Add(-3 * time.Hour)
	completeRun(t, s, "a", base, nil)
	completeRun(t, s, "b", base.Add(time.Hour), nil)
	completeRun(t, s, "c", base.Add(2*time.Hour), errors.New("weather branch failed at load"))

	srv := api.NewServer(s, ":8080", zaptest.NewLogger(t))

	w := get(t, srv, "/api/runs?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var runs []api.RunView
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != "c" || runs[0].Success || runs[0].Error == "" {
		t.Errorf("runs[0] = %+v", runs[0])
	}
	if runs[1].ID != "b" || !runs[1].Success || runs[1].FinishedAt == nil {
		t.Errorf("runs[1] = %+v", runs[1])
	}

	branches := runs[1].Branches
	if len(branches) != 2 {
		t.Fatalf("len(branches) = %d, want 2", len(branches))
	}
	if branches[0].Source != "aqi" || branches[0].Outcome != "skipped" || branches[0].Key != "" {
		t.Errorf("aqi branch = %+v", branches[0])
	}
	if branches[1].Key != "weather_data_x.csv" || string(branches[1].QualityFlags) != `["humidity_invalid"]` {
		t.Errorf("weather branch = %+v", branches[1])
	}
}

func TestRunsEndpoint_InvalidParams(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, ":8080", zaptest.NewLogger(t))

	for _, path := range []string{"/api/runs?limit=abc", "/api/runs?limit=0", "/api/runs/health?days=-1"} {
		if w := get(t, srv, path); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestRunsEndpoint_Empty(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, ":8080", zaptest.NewLogger(t))

	for _, path := range []string{"/api/runs", "/api/runs/health"} {
		w := get(t, srv, path)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); got != "[]" {
			t.Errorf("%s: body = %s, want []", path, got)
		}
	}
}

func TestRunHealthEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	completeRun(t, s, "a", time.Now().UTC().Add(-time.Hour), nil)
	completeRun(t, s, "b", time.Now().UTC().Add(-2*time.Hour), errors.New("boom"))

	srv := api.NewServer(s, ":8080", zaptest.NewLogger(t))
	w := get(t, srv, "/api/runs/health?days=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var summary []store.RunHealthSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}

	totals := map[string]store.RunHealthSummary{}
	for _, h := range summary {
		prev := totals[h.Source]
		prev.Total += h.Total
		prev.Written += h.Written
		prev.Skipped += h.Skipped
		prev.Failed += h.Failed
		totals[h.Source] = prev
	}
	if wx := totals["weather"]; wx.Total != 2 || wx.Written != 1 || wx.Failed != 1 {
		t.Errorf("weather = %+v", wx)
	}
	if aq := totals["aqi"]; aq.Total != 2 || aq.Skipped != 2 {
		t.Errorf("aqi = %+v", aq)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(setupTestStore(t), ":8080", zaptest.NewLogger(t))

	w := get(t, srv, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected Go runtime metrics in /metrics output")
	}
}
