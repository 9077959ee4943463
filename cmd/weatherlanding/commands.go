package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/weatherlanding/internal/api"
	"github.com/lox/weatherlanding/internal/models"
	"github.com/lox/weatherlanding/internal/sink"
	"github.com/lox/weatherlanding/internal/store"
)

type RunCmd struct {
	DryRun bool `help:"Write to an in-memory object store instead of the configured backend."`
}

func (r *RunCmd) Run(ctx context.Context, cli *CLI) error {
	backend := ""
	if r.DryRun {
		backend = sink.BackendMemory
	}
	a, err := cli.newApp(ctx, backend)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.scheduler.RunOnce(ctx)
	if report != nil {
		printReport(report)
	}
	return err
}

func printReport(report *models.RunReport) {
	fmt.Printf("run %s (%s) attempt %d\n", report.ID, report.Timestamp, report.Attempt)
	for _, b := range report.Branches {
		switch b.Outcome {
		case models.OutcomeWritten:
			fmt.Printf("  %s: %s\n", b.Source, b.Confirmation)
		case models.OutcomeSkipped:
			fmt.Printf("  %s: skipped, source unhealthy\n", b.Source)
		default:
			fmt.Printf("  %s: failed at %s: %v\n", b.Source, b.Stage, b.Err)
		}
	}
}

type ServeCmd struct {
	Addr       string        `help:"Override server.addr."`
	NoSchedule bool          `help:"Serve ops endpoints without running the schedule."`
	StaleAfter time.Duration `help:"Report degraded health when the last run is older than this." default:"2h10m"`
}

func (s *ServeCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.newApp(ctx, "")
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if s.Addr != "" {
		addr = s.Addr
	}
	server := api.NewServer(a.store, addr, a.log)
	server.SetStaleAfter(s.StaleAfter)

	g, ctx := errgroup.WithContext(ctx)
	if s.NoSchedule {
		a.log.Info("schedule disabled (--no-schedule)")
	} else {
		server.SetSchedule(a.scheduler)
		g.Go(func() error { return a.scheduler.Run(ctx) })
	}
	g.Go(func() error { return server.Run(ctx) })
	return g.Wait()
}

type RunsCmd struct {
	Limit int `help:"Number of runs to show." default:"10"`
}

func (r *RunsCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, log, err := cli.loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.RecentRuns(ctx, r.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		log.Info("no runs recorded", zap.String("store", cfg.Store.Path))
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTIMESTAMP\tATTEMPT\tSTATUS\tBRANCHES\tERROR")
	for _, run := range runs {
		status := "ok"
		switch {
		case !run.FinishedAt.Valid:
			status = "running"
		case !run.Success:
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			run.StartedAt.Local().Format(time.DateTime), run.RunTimestamp, run.Attempt,
			status, branchSummary(run.Branches), run.ErrorMessage.String)
	}
	return tw.Flush()
}

func branchSummary(branches []store.BranchRecord) string {
	parts := make([]string, 0, len(branches))
	for _, b := range branches {
		parts = append(parts, b.Source+"="+b.Outcome)
	}
	return strings.Join(parts, " ")
}
