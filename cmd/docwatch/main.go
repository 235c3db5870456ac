// Package main is the docwatch CLI: submit documents for conversion, watch
// job progress, and retrieve results. Diagnostics go to stderr as JSON logs;
// human-readable output goes to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nmalhotra/docwatch/internal/config"
	"github.com/nmalhotra/docwatch/internal/docling"
	"github.com/nmalhotra/docwatch/internal/history"
	"github.com/nmalhotra/docwatch/internal/poller"
	"github.com/nmalhotra/docwatch/internal/results"
	"github.com/nmalhotra/docwatch/pkg/models"
)

const usage = `usage: docwatch <command> [flags]

commands:
  convert <file>    submit a document and watch it to completion
  status <job-id>   print one status snapshot
  result <job-id>   print the converted markdown
  download <job-id> save converted output to disk
  jobs              list submitted jobs (local history; -remote for server)
  cancel <job-id>   cancel a job on the server
  health            check service liveness
`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "docwatch:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("a command is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := docling.NewHTTPClient(cfg.Client.BaseURL, cfg.Client.Timeout, cfg.Client.MaxFileSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{cfg: cfg, client: client, results: results.New(client)}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "convert":
		return app.convert(ctx, rest)
	case "status":
		return app.status(ctx, rest)
	case "result":
		return app.result(ctx, rest)
	case "download":
		return app.download(ctx, rest)
	case "jobs":
		return app.jobs(ctx, rest)
	case "cancel":
		return app.cancel(ctx, rest)
	case "health":
		return app.health(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type app struct {
	cfg     *config.Config
	client  docling.Client
	results *results.Orchestrator
}

// openHistory opens the local ledger. The ledger is best effort: on failure
// it logs and returns nil, and callers skip recording.
func (a *app) openHistory() *history.SQLiteStore {
	path := a.cfg.History.Path
	if path == "" {
		var err error
		path, err = history.DefaultPath()
		if err != nil {
			slog.Warn("history disabled", "error", err)
			return nil
		}
	}
	store, err := history.Open(path)
	if err != nil {
		slog.Warn("history disabled", "error", err)
		return nil
	}
	return store
}

func (a *app) convert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	downloadFormat := fs.String("download", "", "also download the result in this format (markdown, html, json)")
	outDir := fs.String("out", a.cfg.Download.Dir, "directory for downloaded output")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("convert requires exactly one file argument")
	}
	path := fs.Arg(0)

	var format models.Format
	if *downloadFormat != "" {
		parsed, ok := models.ParseFormat(*downloadFormat)
		if !ok {
			return fmt.Errorf("invalid download format %q", *downloadFormat)
		}
		format = parsed
	}

	hist := a.openHistory()
	if hist != nil {
		defer hist.Close()
	}

	reg := poller.NewRegistry(a.client, poller.Policy{
		Interval:     a.cfg.Poll.Interval,
		BackoffBase:  a.cfg.Poll.BackoffBase,
		BackoffMax:   a.cfg.Poll.BackoffMax,
		FailureLimit: a.cfg.Poll.FailureLimit,
	})

	session := reg.Submit(ctx, path)
	go func() {
		<-ctx.Done()
		session.Cancel()
	}()

	recorded := false
	var last poller.Event
	for ev := range session.Events() {
		last = ev
		a.printEvent(ev)

		if !recorded && ev.Snapshot.JobID != "" {
			recorded = true
			if hist != nil {
				if info, err := os.Stat(path); err == nil {
					if err := hist.RecordSubmission(ctx, ev.Snapshot.JobID, path, info.Size()); err != nil {
						slog.Warn("recording submission failed", "error", err)
					}
				}
			}
		}
	}
	<-session.Done()

	// The run loop may observe the done context and close the event stream
	// before the watcher goroutine gets to call Cancel; either signal means
	// the user interrupted the conversion.
	if session.State() == poller.StateCancelled || ctx.Err() != nil {
		return errors.New("cancelled")
	}

	if hist != nil && last.Snapshot.JobID != "" {
		if err := hist.UpdateOutcome(context.Background(), last.Snapshot.JobID, last.Snapshot.Status, last.Snapshot.Error); err != nil {
			slog.Warn("recording outcome failed", "error", err)
		}
	}

	if last.State == poller.StateFailed {
		if last.Err != nil {
			slog.Warn("job failed", "cause", last.Err)
		}
		return fmt.Errorf("conversion failed: %s", last.Snapshot.Error)
	}

	jobID := last.Snapshot.JobID
	doc, err := a.results.Fetch(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetch result: %w", err)
	}
	fmt.Printf("completed: %s (%d pages, %d elements, %.2fs)\n",
		doc.OriginalFilename, doc.Metadata.Pages, doc.Metadata.ElementsDetected, doc.Metadata.ProcessingTime)

	if format != "" {
		written, err := a.results.Download(ctx, jobID, format, *outDir)
		if err != nil {
			return fmt.Errorf("download result: %w", err)
		}
		fmt.Println("saved:", written)
	}
	return nil
}

func (a *app) printEvent(ev poller.Event) {
	switch ev.State {
	case poller.StateSubmitting:
		fmt.Println("submitting...")
	case poller.StateActive:
		if ev.Snapshot.Message != "" {
			fmt.Printf("%s %3d%%  %s\n", ev.Snapshot.Status, ev.Snapshot.Progress, ev.Snapshot.Message)
		} else {
			fmt.Printf("%s %3d%%\n", ev.Snapshot.Status, ev.Snapshot.Progress)
		}
	case poller.StateCompleted:
		fmt.Printf("%s %3d%%\n", ev.Snapshot.Status, ev.Snapshot.Progress)
	case poller.StateFailed:
		fmt.Printf("failed: %s\n", ev.Snapshot.Error)
	}
}

func (a *app) status(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("status requires exactly one job-id argument")
	}

	snap, err := a.client.Status(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("job:      %s\n", snap.JobID)
	fmt.Printf("status:   %s\n", snap.Status)
	fmt.Printf("progress: %d%%\n", snap.Progress)
	if snap.Message != "" {
		fmt.Printf("message:  %s\n", snap.Message)
	}
	if snap.Error != "" {
		fmt.Printf("error:    %s\n", snap.Error)
	}
	return nil
}

func (a *app) result(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("result requires exactly one job-id argument")
	}

	doc, err := a.results.Fetch(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Print(doc.Content.Markdown)
	return nil
}

func (a *app) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	formatFlag := fs.String("format", "markdown", "output format (markdown, html, json)")
	outDir := fs.String("out", a.cfg.Download.Dir, "directory for downloaded output")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("download requires exactly one job-id argument")
	}

	format, ok := models.ParseFormat(*formatFlag)
	if !ok {
		return fmt.Errorf("invalid format %q", *formatFlag)
	}

	path, err := a.results.Download(ctx, fs.Arg(0), format, *outDir)
	if err != nil {
		return err
	}
	fmt.Println("saved:", path)
	return nil
}

func (a *app) jobs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	remote := fs.Bool("remote", false, "list jobs known to the server instead of local history")
	statusFilter := fs.String("status", "", "filter by status")
	limit := fs.Int("limit", 20, "maximum rows")
	fs.Parse(args)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if *remote {
		page, err := a.client.ListJobs(ctx, 1, *limit, *statusFilter)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "JOB ID\tFILE\tSTATUS\tPROGRESS")
		for _, j := range page.Jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\n", j.JobID, j.Filename, j.Status, j.Progress)
		}
		return nil
	}

	hist := a.openHistory()
	if hist == nil {
		return errors.New("local history unavailable")
	}
	defer hist.Close()

	entries, err := hist.List(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "JOB ID\tFILE\tSTATUS\tSUBMITTED")
	for _, e := range entries {
		if *statusFilter != "" && e.Status != *statusFilter {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.JobID, e.Filename, e.Status, e.SubmittedAt.Local().Format(time.RFC3339))
	}
	return nil
}

func (a *app) cancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("cancel requires exactly one job-id argument")
	}
	if err := a.client.CancelJob(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("cancelled:", args[0])
	return nil
}

func (a *app) health(ctx context.Context) error {
	if err := a.client.Health(ctx); err != nil {
		return err
	}
	fmt.Println("service healthy:", a.cfg.Client.BaseURL)
	return nil
}
