package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lox/weatherlanding/internal/store"
)

const (
	defaultRunsLimit = 24
	maxRunsLimit     = 500
	defaultDays      = 7
	maxDays          = 90
)

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status   string         `json:"status"`
	Database string         `json:"database"`
	Archive  *ArchiveHealth `json:"archive,omitempty"`
	LastRun  *RunHealth     `json:"last_run,omitempty"`
	NextRun  *time.Time     `json:"next_run,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
}

// ArchiveHealth sizes the raw payload archive.
type ArchiveHealth struct {
	Payloads  int            `json:"payloads"`
	SizeBytes int64          `json:"size_bytes"`
	BySource  map[string]int `json:"by_source"`
}

// RunHealth summarizes the most recent run for /health.
type RunHealth struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	AgeMinutes int       `json:"age_minutes"`
	Finished   bool      `json:"finished"`
	Success    bool      `json:"success"`
	Stale      bool      `json:"stale"`
}

type RunView struct {
	ID           string       `json:"id"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	RunTimestamp string       `json:"run_timestamp"`
	Address      string       `json:"address"`
	Attempt      int          `json:"attempt"`
	Latitude     string       `json:"latitude,omitempty"`
	Longitude    string       `json:"longitude,omitempty"`
	Success      bool         `json:"success"`
	Error        string       `json:"error,omitempty"`
	Branches     []BranchView `json:"branches"`
}

type BranchView struct {
	Source       string          `json:"source"`
	Container    string          `json:"container"`
	Healthy      bool            `json:"healthy"`
	Outcome      string          `json:"outcome"`
	Stage        string          `json:"stage,omitempty"`
	Key          string          `json:"key,omitempty"`
	QualityFlags json.RawMessage `json:"quality_flags,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	Error        string          `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", Database: "ok"}
	fail := func(msg string, err error) {
		health.Status = "error"
		health.Errors = append(health.Errors, msg+": "+err.Error())
	}

	if err := s.runs.Ping(r.Context()); err != nil {
		health.Database = "unreachable"
		fail("database", err)
	}

	if stats, err := s.runs.GetRawPayloadStats(r.Context()); err != nil {
		fail("archive", err)
	} else {
		health.Archive = &ArchiveHealth{
			Payloads:  stats.TotalCount,
			SizeBytes: stats.TotalSizeBytes,
			BySource:  stats.CountBySource,
		}
	}

	if s.schedule != nil {
		if next := s.schedule.Next(); !next.IsZero() {
			health.NextRun = &next
		}
	}

	last, err := s.runs.LastRun(r.Context())
	if err != nil {
		fail("last run", err)
	}

	if last != nil {
		age := s.now().Sub(last.StartedAt)
		rh := &RunHealth{
			ID:         last.ID,
			StartedAt:  last.StartedAt,
			AgeMinutes: int(age.Minutes()),
			Finished:   last.FinishedAt.Valid,
			Success:    last.Success,
			Stale:      age > s.staleAfter,
		}
		health.LastRun = rh

		if health.Status == "ok" && (rh.Stale || (rh.Finished && !rh.Success)) {
			health.Status = "degraded"
		}
		if last.ErrorMessage.Valid {
			health.Errors = append(health.Errors, last.ErrorMessage.String)
		}
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", defaultRunsLimit, maxRunsLimit)
	if !ok {
		return
	}

	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("recent runs", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRunHealth(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", defaultDays, maxDays)
	if !ok {
		return
	}

	summary, err := s.runs.GetRunHealth(r.Context(), days)
	if err != nil {
		s.log.Error("run health", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if summary == nil {
		summary = []store.RunHealthSummary{}
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", zap.Error(err))
	}
}

// intParam reads a positive integer query parameter, capped at ceiling. It
// writes a 400 and returns false when the value is not a positive integer.
func intParam(w http.ResponseWriter, r *http.Request, name string, def, ceiling int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return min(n, ceiling), true
}

func newRunView(r store.RunRecord) RunView {
	v := RunView{
		ID:           r.ID,
		StartedAt:    r.StartedAt,
		RunTimestamp: r.RunTimestamp,
		Address:      r.Address,
		Attempt:      r.Attempt,
		Latitude:     r.Latitude.String,
		Longitude:    r.Longitude.String,
		Success:      r.Success,
		Error:        r.ErrorMessage.String,
		Branches:     make([]BranchView, 0, len(r.Branches)),
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		v.FinishedAt = &t
	}
	for _, b := range r.Branches {
		bv := BranchView{
			Source:     b.Source,
			Container:  b.Container,
			Healthy:    b.Healthy,
			Outcome:    b.Outcome,
			Stage:      b.Stage.String,
			Key:        b.ObjectKey.String,
			DurationMS: b.DurationMS.Int64,
			Error:      b.ErrorMessage.String,
		}
		if b.QualityFlags.Valid && json.Valid([]byte(b.QualityFlags.String)) {
			bv.QualityFlags = json.RawMessage(b.QualityFlags.String)
		}
		v.Branches = append(v.Branches, bv)
	}
	return v
}
