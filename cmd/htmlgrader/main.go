// Command htmlgrader checks an HTML document (a local file or a URL) for the
// presence of CSS selectors listed in a checks file and prints one boolean
// per selector as JSON.
//
// Usage (file):
//
//	htmlgrader -f index.html -c checks.json
//
// Usage (URL):
//
//	htmlgrader -u "https://example.com/" -c checks.json
//
// Debug (print outer HTML or text for selector matches):
//
//	htmlgrader -f index.html -selector "div#header" -text
//
// Persist the run and ship metrics:
//
//	DD_API_KEY=... htmlgrader -f index.html -store sqlite -dsn file:grades.db -metrics datadog
//
// The checks file is a JSON array of selectors, e.g. ["h1", "#header", ".container"].
// Output keys are the selectors in ascending order, indented with four spaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"htmlgrader/internal/config"
	"htmlgrader/internal/grader"
	"htmlgrader/internal/metrics"
	"htmlgrader/internal/metrics/datadog"
	"htmlgrader/internal/storage"

	_ "htmlgrader/internal/storage/mssql"
	_ "htmlgrader/internal/storage/postgres"
	_ "htmlgrader/internal/storage/sqlite"
)

const (
	defaultHTMLFile   = "test.html"
	defaultChecksFile = "checks-test-1.json"
)

// backendCloser is the minimal interface used by this command to manage a metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
type deps struct {
	HTTPClient     *http.Client
	BackendFactory func(ctx context.Context, m config.Metrics, logger *slog.Logger) (backendCloser, error)
	OpenStore      func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	Now            func() time.Time
}

// options holds the parsed flags.
type options struct {
	file       string
	url        string
	checks     string
	configPath string
	timeout    time.Duration
	selector   string
	textOnly   bool
	storeKind  string
	dsn        string
	metrics    string
	ddTags     string

	set map[string]bool
}

// main is intentionally small: it wires real dependencies and exits with a code.
func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, deps{
		HTTPClient: http.DefaultClient,
		BackendFactory: func(ctx context.Context, m config.Metrics, logger *slog.Logger) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    m.JobName,
				Tags:       m.Tags,
				FlushEvery: m.FlushEvery,
				Logger:     logger,
			})
		},
		OpenStore: storage.New,
		Now:       time.Now,
	}))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("htmlgrader", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.file, "file", defaultHTMLFile, "Path to index.html")
	fs.StringVar(&o.file, "f", defaultHTMLFile, "Path to index.html (shorthand)")
	fs.StringVar(&o.url, "url", "", "Url to index.html; overrides -file")
	fs.StringVar(&o.url, "u", "", "Url to index.html (shorthand)")
	fs.StringVar(&o.checks, "checks", defaultChecksFile, "Path to checks.json")
	fs.StringVar(&o.checks, "c", defaultChecksFile, "Path to checks.json (shorthand)")

	fs.StringVar(&o.configPath, "config", "", "Optional YAML config file")
	fs.DurationVar(&o.timeout, "timeout", 0, "Timeout for -url fetch (0 = none)")
	fs.StringVar(&o.selector, "selector", "", "Debug: CSS selector to print matches for (not JSON)")
	fs.BoolVar(&o.textOnly, "text", false, "Debug: print text blocks for -selector matches")
	fs.StringVar(&o.storeKind, "store", "", "Persist the run: sqlite|postgres|mssql")
	fs.StringVar(&o.dsn, "dsn", "", "Store DSN (overrides DSN env and config)")
	fs.StringVar(&o.metrics, "metrics", "", "Metrics backend: none|datadog")
	fs.StringVar(&o.ddTags, "dd-tags", "", "Extra Datadog tags, comma-separated")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	o.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// resolveConfig loads the config file and applies flag overrides on top.
func resolveConfig(o options) (config.Config, error) {
	cfg, err := config.Read(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.set["timeout"] {
		cfg.Fetch.Timeout = o.timeout
	}
	if o.storeKind != "" {
		cfg.Store.Kind = o.storeKind
	}
	if o.dsn != "" {
		cfg.Store.DSN = o.dsn
	}
	if o.metrics != "" {
		cfg.Metrics.Backend = o.metrics
	}
	cfg.Metrics.Tags = append(cfg.Metrics.Tags, datadog.ParseTagsCSV(o.ddTags)...)
	return cfg, cfg.Validate()
}

// run is split out from main so we can unit test the command without spawning
// an OS process.
//
// It returns a Unix-style exit code:
//   - 0 for success, including a URL that could not be fetched
//   - 1 for a missing input file or a runtime error
//   - 2 for usage/config errors
func run(ctx context.Context, args []string, stdout, stderr io.Writer, d deps) int {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.OpenStore == nil {
		d.OpenStore = storage.New
	}

	o, err := parseFlags(args, stderr)
	if err != nil {
		if err != flag.ErrHelp {
			fmt.Fprintln(stderr, err)
		}
		return 2
	}

	cfg, err := resolveConfig(o)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	// Local inputs are preconditions: a missing file stops the run before
	// anything is loaded. -file is checked in URL mode too when given.
	if o.url == "" || o.set["file"] || o.set["f"] {
		if code, ok := assertExists(stderr, o.file); !ok {
			return code
		}
	}
	if o.selector == "" {
		if code, ok := assertExists(stderr, o.checks); !ok {
			return code
		}
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))

	closeMetrics := setupMetrics(ctx, logger, cfg.Metrics, d.BackendFactory)
	defer closeMetrics()

	input := grader.Input{URL: o.url, Path: o.file}
	loader := grader.NewLoader(d.HTTPClient, cfg.Fetch.Timeout).WithUserAgent(cfg.Fetch.UserAgent)

	if o.selector != "" {
		html, err := loader.Load(ctx, input)
		if err != nil {
			fmt.Fprintf(stderr, "load html: %v\n", err)
			return 1
		}
		if err := grader.DebugPrintSelector(stdout, html, o.selector, o.textOnly); err != nil {
			fmt.Fprintf(stderr, "debug selector: %v\n", err)
			return 1
		}
		return 0
	}

	start := d.Now()
	status := "error"
	defer func() {
		labels := metrics.Labels{"mode": input.Mode(), "status": status}
		metrics.IncCounter(metrics.RunsTotal, 1, labels)
		metrics.ObserveHistogram(metrics.RunDurationSeconds, d.Now().Sub(start).Seconds(), labels)
	}()

	html, err := loader.Load(ctx, input)
	if err != nil {
		if input.Mode() == "url" {
			// A fetch failure is reported but is not a failed run.
			status = "fetch_error"
			fmt.Fprintf(stderr, "Url %s does not exist. Exiting.\n", o.url)
			logger.Warn("fetch failed", "url", o.url, "error", err)
			return 0
		}
		fmt.Fprintf(stderr, "load html: %v\n", err)
		return 1
	}

	result, err := grader.CheckFile(html, o.checks)
	if err != nil {
		fmt.Fprintf(stderr, "check: %v\n", err)
		return 1
	}

	if err := grader.WriteReport(stdout, result); err != nil {
		fmt.Fprintf(stderr, "report: %v\n", err)
		return 1
	}

	if cfg.Store.Kind != "" {
		if err := saveRun(ctx, logger, d.OpenStore, cfg.Store, newRun(input, o.checks, start, result)); err != nil {
			fmt.Fprintf(stderr, "store: %v\n", err)
			return 1
		}
	}

	status = "ok"
	return 0
}

func assertExists(stderr io.Writer, path string) (int, bool) {
	if err := grader.AssertFileExists(path); err != nil {
		if grader.IsMissingFile(err) {
			fmt.Fprintf(stderr, "%s does not exist. Exiting.\n", path)
		} else {
			fmt.Fprintln(stderr, err)
		}
		return 1, false
	}
	return 0, true
}

// setupMetrics installs the configured backend and returns its shutdown
// func. A backend that fails to initialize is logged and replaced by the nop
// backend; metrics never fail a run.
func setupMetrics(
	ctx context.Context,
	logger *slog.Logger,
	m config.Metrics,
	factory func(ctx context.Context, m config.Metrics, logger *slog.Logger) (backendCloser, error),
) func() {
	switch m.Backend {
	case "", "none":
		return func() {}
	case "datadog":
		if factory == nil {
			logger.Warn("metrics: no datadog factory; using nop")
			return func() {}
		}
		b, err := factory(ctx, m, logger)
		if err != nil {
			logger.Warn("metrics: failed to init datadog backend; using nop", "error", err)
			return func() {}
		}
		logger.Debug("metrics enabled", "backend", m.Backend, "job_name", m.JobName, "tags", m.Tags)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Warn("metrics: datadog close/flush error", "error", err)
			}
			metrics.SetBackend(nil)
		}
	default:
		logger.Warn("metrics: unknown backend; metrics disabled", "backend", m.Backend)
		return func() {}
	}
}

func newRun(input grader.Input, checksPath string, gradedAt time.Time, r *grader.Result) storage.Run {
	run := storage.Run{
		Source:     input.Source(),
		Mode:       input.Mode(),
		ChecksFile: checksPath,
		GradedAt:   gradedAt,
	}
	for _, e := range r.Entries() {
		run.Checks = append(run.Checks, storage.Check{Selector: e.Selector, Present: e.Present})
	}
	return run
}

func saveRun(
	ctx context.Context,
	logger *slog.Logger,
	open func(ctx context.Context, cfg storage.Config) (storage.Repository, error),
	sc config.Store,
	run storage.Run,
) error {
	repo, err := open(ctx, storage.Config{Kind: sc.Kind, DSN: sc.DSN})
	if err != nil {
		return fmt.Errorf("open %s: %w", sc.Kind, err)
	}
	defer repo.Close()

	if err := repo.EnsureTables(ctx); err != nil {
		return err
	}
	id, err := repo.SaveRun(ctx, run)
	if err != nil {
		return err
	}
	logger.Debug("run stored", "kind", sc.Kind, "run_id", id, "passed", run.Passed(), "total", len(run.NormalizedChecks()))
	return nil
}
