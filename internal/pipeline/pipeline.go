// Package pipeline runs one collection pass: resolve the address, then for
// each source probe, extract, transform and load, with the sources running
// side by side.
package pipeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/weatherlanding/internal/failure"
	"github.com/lox/weatherlanding/internal/ingest"
	"github.com/lox/weatherlanding/internal/metrics"
	"github.com/lox/weatherlanding/internal/models"
	"github.com/lox/weatherlanding/internal/sink"
)

type Resolver interface {
	Resolve(ctx context.Context, address string) (models.Coordinates, error)
}

// Recorder audits runs. Implemented by store.Store.
type Recorder interface {
	StartRun(ctx context.Context, report *models.RunReport) error
	SaveRawPayload(ctx context.Context, runID string, raw models.RawResponse) error
	CompleteRun(ctx context.Context, report *models.RunReport) error
}

// Branch pairs a source with its destination container.
type Branch struct {
	Source    ingest.Source
	Container string
}

type Pipeline struct {
	resolver  Resolver
	ingest    *ingest.Client
	transform *ingest.Transformer
	loader    *sink.Loader
	recorder  Recorder
	log       *zap.Logger
	now       func() time.Time

	address  string
	branches []Branch
}

type Options struct {
	Address  string
	Branches []Branch
	// Recorder is optional.
	Recorder Recorder
	// Now defaults to time.Now.
	Now func() time.Time
}

func New(resolver Resolver, client *ingest.Client, transformer *ingest.Transformer, loader *sink.Loader, log *zap.Logger, opts Options) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		resolver:  resolver,
		ingest:    client,
		transform: transformer,
		loader:    loader,
		recorder:  opts.Recorder,
		log:       log.Named("pipeline"),
		now:       now,
		address:   opts.Address,
		branches:  opts.Branches,
	}
}

// Run executes one pass. The returned report is never nil. The error is the
// resolve failure, or every failed branch's error combined; skipped branches
// do not fail the run.
func (p *Pipeline) Run(ctx context.Context) (*models.RunReport, error) {
	return p.RunAttempt(ctx, 1)
}

// RunAttempt is Run with the scheduler's attempt number recorded on the
// report.
func (p *Pipeline) RunAttempt(ctx context.Context, attempt int) (*models.RunReport, error) {
	started := p.now()
	report := &models.RunReport{
		ID:        uuid.NewString(),
		Address:   p.address,
		Timestamp: models.NewRunTimestamp(started),
		Attempt:   attempt,
		StartedAt: started.UTC(),
	}
	log := p.log.With(
		zap.String("run_id", report.ID),
		zap.String("timestamp", report.Timestamp.String()),
	)
	log.Info("run started", zap.String("address", p.address), zap.Int("attempt", attempt))

	p.audit(log, "start run", func() error { return p.recorder.StartRun(ctx, report) })

	coords, err := p.resolver.Resolve(ctx, p.address)
	if err != nil {
		report.Err = errors.Wrapf(err, "%s", failure.StageResolve)
		return p.finish(ctx, log, report)
	}
	report.Coordinates = coords
	log.Info("resolved coordinates",
		zap.String("lat", coords.Latitude),
		zap.String("lon", coords.Longitude),
	)

	report.Branches = make([]models.BranchResult, len(p.branches))
	var g errgroup.Group
	for i, b := range p.branches {
		g.Go(func() error {
			report.Branches[i] = p.runBranch(ctx, log, report, b)
			return nil
		})
	}
	_ = g.Wait()

	for _, br := range report.Branches {
		if br.Outcome == models.OutcomeFailed {
			report.Err = multierr.Append(report.Err, errors.Wrapf(br.Err, "%s branch failed at %s", br.Source, br.Stage))
		}
	}
	return p.finish(ctx, log, report)
}

func (p *Pipeline) runBranch(ctx context.Context, log *zap.Logger, report *models.RunReport, b Branch) (res models.BranchResult) {
	start := time.Now()
	source := b.Source.Kind
	log = log.With(zap.String("source", string(source)))
	res = models.BranchResult{Source: source, Container: b.Container}

	defer func() {
		res.Duration = time.Since(start)
		metrics.BranchOutcomes.WithLabelValues(string(source), string(res.Outcome), res.Stage).Inc()
		switch res.Outcome {
		case models.OutcomeFailed:
			kind := errorKind(res.Err)
			metrics.BranchFailures.WithLabelValues(string(source), kind).Inc()
			log.Error("branch failed", zap.String("stage", res.Stage), zap.String("kind", kind), zap.Error(res.Err))
		case models.OutcomeSkipped:
			log.Warn("branch skipped, source unhealthy")
		default:
			log.Info(res.Confirmation, zap.Duration("took", res.Duration))
		}
	}()

	fail := func(stage failure.Stage, err error) models.BranchResult {
		res.Outcome = models.OutcomeFailed
		res.Stage = string(stage)
		res.Err = err
		return res
	}

	res.Healthy = p.ingest.Probe(ctx, b.Source, report.Coordinates)
	res.Stage = string(failure.StageProbe)

	extraction, err := p.ingest.Extract(ctx, b.Source, report.Coordinates, res.Healthy)
	if err != nil {
		return fail(failure.StageExtract, err)
	}
	raw, ok := extraction.Raw()
	if !ok {
		res.Outcome = models.OutcomeSkipped
		return res
	}
	res.Stage = string(failure.StageExtract)

	p.audit(log, "archive payload", func() error { return p.recorder.SaveRawPayload(ctx, report.ID, raw) })

	rec, err := p.transform.Transform(raw)
	if err != nil {
		return fail(failure.StageTransform, err)
	}
	res.Stage = string(failure.StageTransform)

	if res.Flags = ingest.ValidateRecord(rec); len(res.Flags) > 0 {
		log.Warn("quality flags raised", zap.Strings("flags", res.Flags))
	}

	key := report.Timestamp.ObjectKey(source)
	confirmation, err := p.loader.Load(ctx, rec, b.Container, key)
	if err != nil {
		return fail(failure.StageLoad, err)
	}

	res.Stage = string(failure.StageLoad)
	res.Outcome = models.OutcomeWritten
	res.Key = key
	res.Confirmation = confirmation
	return res
}

// errorKind labels err by its failure sentinel.
func errorKind(err error) string {
	if kind := failure.Kind(err); kind != nil {
		return kind.Error()
	}
	return "unknown"
}

func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, report *models.RunReport) (*models.RunReport, error) {
	report.FinishedAt = p.now().UTC()
	took := report.FinishedAt.Sub(report.StartedAt)

	status := "success"
	if report.Err != nil {
		status = "failed"
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()
	metrics.RunDuration.Observe(took.Seconds())

	p.audit(log, "complete run", func() error { return p.recorder.CompleteRun(ctx, report) })

	if report.Err != nil {
		log.Error("run failed", zap.Duration("took", took), zap.Error(report.Err))
		return report, report.Err
	}
	log.Info("run finished", zap.Duration("took", took), zap.Int("written", report.Written()))
	return report, nil
}

// audit calls fn when a recorder is configured. Audit failures are logged
// and otherwise ignored.
func (p *Pipeline) audit(log *zap.Logger, what string, fn func() error) {
	if p.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		log.Warn("audit: "+what+" failed", zap.Error(err))
	}
}
