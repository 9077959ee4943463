package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lox/weatherlanding/internal/failure"
	"github.com/lox/weatherlanding/internal/models"
)

// scriptedRunner fails the first failures attempts.
type scriptedRunner struct {
	mu       sync.Mutex
	failures int
	attempts []int
}

func (r *scriptedRunner) RunAttempt(ctx context.Context, attempt int) (*models.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)

	report := &models.RunReport{ID: "run", Timestamp: "01082024160000", Address: "somewhere", Attempt: attempt}
	if len(r.attempts) <= r.failures {
		report.Err = failure.Newf(failure.ErrGeocode, "no results")
		return report, report.Err
	}
	return report, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, subject, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.messages = append(n.messages, message)
	return n.err
}

func newTestScheduler(t *testing.T, runner Runner, notifier Notifier, retries uint64) *Scheduler {
	t.Helper()
	s, err := New(runner, notifier, Config{Retries: retries, RetryDelay: time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		retries      uint64
		wantAttempts []int
		wantErr      bool
		wantNotified int
	}{
		{name: "first attempt succeeds", failures: 0, retries: 1, wantAttempts: []int{1}},
		{name: "retry succeeds", failures: 1, retries: 1, wantAttempts: []int{1, 2}},
		{name: "retries exhausted", failures: 5, retries: 1, wantAttempts: []int{1, 2}, wantErr: true, wantNotified: 1},
		{name: "no retries", failures: 5, retries: 0, wantAttempts: []int{1}, wantErr: true, wantNotified: 1},
		{name: "three retries", failures: 3, retries: 3, wantAttempts: []int{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{failures: tt.failures}
			notifier := &recordingNotifier{}
			s := newTestScheduler(t, runner, notifier, tt.retries)

			report, err := s.RunOnce(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, failure.ErrGeocode))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, runner.attempts)
			assert.Len(t, notifier.subjects, tt.wantNotified)
			require.NotNil(t, report)
			assert.Equal(t, len(tt.wantAttempts), report.Attempt)
			assert.Same(t, report, s.Last())
		})
	}
}

func TestRunOnce_NotificationContent(t *testing.T) {
	notifier := &recordingNotifier{}
	s := newTestScheduler(t, &scriptedRunner{failures: 10}, notifier, 1)

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, notifier.subjects, 1)
	assert.Equal(t, "weatherlanding: run failed after 2 attempt(s)", notifier.subjects[0])
	assert.Contains(t, notifier.messages[0], "01082024160000")
	assert.Contains(t, notifier.messages[0], "no results")
}

func TestRunOnce_NotifierErrorIsSwallowed(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("throttled")}
	s := newTestScheduler(t, &scriptedRunner{failures: 10}, notifier, 0)

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrGeocode), "the run error is returned, not the notifier's")
}

func TestRunOnce_CancelledContextStopsRetrying(t *testing.T) {
	runner := &scriptedRunner{failures: 10}
	s, err := New(runner, nil, Config{Retries: 5, RetryDelay: time.Hour}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan struct{})
	go func() {
		_, _ = s.RunOnce(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunOnce did not return after cancel")
	}
	assert.Len(t, runner.attempts, 1)
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(&scriptedRunner{}, nil, Config{Spec: "every tuesday"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := newTestScheduler(t, &scriptedRunner{}, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return !s.Next().IsZero() }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Next().After(time.Now()))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Nil(t, s.Last(), "hourly job never fired")
}

func TestScheduledRun_Housekeeping(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		houseErr     error
		wantAttempts int
	}{
		{name: "after success", wantAttempts: 1},
		{name: "after exhausted retries", failures: 5, wantAttempts: 2},
		{name: "error is logged only", houseErr: errors.New("disk full"), wantAttempts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{failures: tt.failures}
			calls := 0
			s, err := New(runner, nil, Config{
				Retries:    1,
				RetryDelay: time.Millisecond,
				Housekeeping: func(ctx context.Context) error {
					calls++
					return tt.houseErr
				},
			}, zaptest.NewLogger(t))
			require.NoError(t, err)

			s.scheduledRun(context.Background())
			assert.Equal(t, 1, calls)
			assert.Len(t, runner.attempts, tt.wantAttempts)
		})
	}
}

func TestScheduledRun_NoHousekeeping(t *testing.T) {
	runner := &scriptedRunner{}
	s := newTestScheduler(t, runner, nil, 0)
	s.scheduledRun(context.Background())
	assert.Equal(t, []int{1}, runner.attempts)
}

func TestFailureMessage(t *testing.T) {
	report := &models.RunReport{
		ID:        "abc",
		Timestamp: "01082024160000",
		Address:   "1600 Amphitheatre Parkway",
		Branches: []models.BranchResult{
			{Source: models.SourceWeather, Outcome: models.OutcomeFailed, Stage: "transform"},
			{Source: models.SourceAirQuality, Outcome: models.OutcomeWritten, Stage: "load"},
		},
	}
	msg := FailureMessage(report, 2, errors.New("boom"))
	assert.Contains(t, msg, "after 2 attempt(s)")
	assert.Contains(t, msg, "- weather: failed at transform")
	assert.Contains(t, msg, "- aqi: written\n")
	assert.Contains(t, msg, "Error: boom")

	assert.Contains(t, FailureMessage(nil, 1, errors.New("x")), "Error: x")
}
