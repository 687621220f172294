package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/scrapernhl/scrapekit/internal/config"
	"github.com/scrapernhl/scrapekit/internal/fsutil"
	"github.com/scrapernhl/scrapekit/pkg/batch"
	"github.com/scrapernhl/scrapekit/pkg/fetch"
	"github.com/scrapernhl/scrapekit/pkg/metrics"
)

// errInterrupted makes the process exit non-zero after a cancelled run.
var errInterrupted = errors.New("run interrupted")

type runOptions struct {
	itemsFile   string
	output      string
	checkpoint  string
	workers     int
	rate        float64
	metricsAddr string
	noProgress  bool
	noCache     bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch every endpoint listed in an items file",
		Long: `Fetch every endpoint path listed in the items file (one per line,
blank lines and lines starting with # are ignored) against api.base_url.

With --checkpoint, progress is saved after every chunk and a rerun with the
same path skips completed endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.itemsFile, "items", "i", "", "file with one endpoint path per line (required)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write successful responses as JSON lines to this file")
	cmd.Flags().StringVar(&opts.checkpoint, "checkpoint", "", "checkpoint file for resumable runs")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "concurrent workers (default from config)")
	cmd.Flags().Float64VarP(&opts.rate, "rate", "r", 0, "requests per second across all workers (default from config)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "bypass the response cache")
	_ = cmd.MarkFlagRequired("items")

	return cmd
}

func runBatch(cmd *cobra.Command, a *app, opts runOptions) error {
	ctx := cmd.Context()
	cfg := a.cfg

	if cmd.Flags().Changed("workers") {
		cfg.Batch.Workers = opts.workers
	}
	if cmd.Flags().Changed("rate") {
		cfg.Batch.RatePerSecond = opts.rate
	}
	if cmd.Flags().Changed("checkpoint") {
		cfg.Checkpoint.Path = opts.checkpoint
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.noCache {
		cfg.Cache.Backend = config.CacheNone
	}

	paths, err := readItems(opts.itemsFile)
	if err != nil {
		return err
	}
	items := fetch.PathItems(paths)

	client, err := fetch.New(cfg.API.BaseURL,
		fetch.WithUserAgent(cfg.API.UserAgent),
		fetch.WithTimeout(cfg.API.Timeout),
	)
	if err != nil {
		return err
	}

	c, closeCache, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeCache(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close cache")
		}
	}()

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.NewServer(cfg.Metrics.Addr)
		if err != nil {
			return err
		}
		srv.Start()
		a.logger.Info().Str("addr", srv.Addr()).Msg("Serving metrics")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	bar := newProgressBar(len(items), cmd.ErrOrStderr(), opts.noProgress)

	bcfg := batch.DefaultConfig[string, json.RawMessage]()
	bcfg.MaxWorkers = cfg.Batch.Workers
	bcfg.RatePerSecond = cfg.Batch.RatePerSecond
	bcfg.Retry = cfg.RetryPolicy()
	bcfg.OnOutcome = func(batch.Outcome[string, json.RawMessage]) { _ = bar.Add(1) }
	if c != nil {
		bcfg.Cache = c
		bcfg.CacheTTL = cfg.Cache.TTL
		bcfg.KeyFunc = fetch.PathKey("api")
	}

	runner, err := batch.NewRunner(bcfg)
	if err != nil {
		return err
	}

	work := fetch.WorkFunc(client, func(item batch.Item[string]) string { return item.Payload })

	var result *batch.Result[string, json.RawMessage]
	if cfg.Checkpoint.Path != "" {
		result, err = batch.RunWithCheckpoints(ctx, runner, items, work, batch.CheckpointConfig{
			Size:           cfg.Checkpoint.Size,
			Path:           config.ExpandPath(cfg.Checkpoint.Path),
			KeepCheckpoint: cfg.Checkpoint.Keep,
			OnResume:       func(n int) { _ = bar.Add(n) },
		})
	} else {
		result, err = runner.Run(ctx, items, work)
	}
	if err != nil {
		return err
	}
	_ = bar.Finish()

	if opts.output != "" {
		if err := writeOutput(opts.output, result); err != nil {
			return err
		}
	}

	summary := result.Summary()
	renderSummary(cmd.OutOrStdout(), summary)

	if summary.Interrupted {
		if cfg.Checkpoint.Path != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Interrupted. Rerun with --checkpoint %s to resume.\n", cfg.Checkpoint.Path)
		}
		return errInterrupted
	}
	return nil
}

// readItems returns the endpoint paths listed in path.
func readItems(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open items file: %w", err)
	}
	defer f.Close()

	var paths []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read items file: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("items file %s lists no endpoints", path)
	}
	return paths, nil
}

type outputLine struct {
	ID     string          `json:"id"`
	Cached bool            `json:"cached,omitempty"`
	Value  json.RawMessage `json:"value"`
}

// writeOutput atomically writes one JSON line per successful item.
func writeOutput(path string, result *batch.Result[string, json.RawMessage]) error {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	for _, o := range result.Successful {
		if err := enc.Encode(outputLine{ID: o.Item.ID, Cached: o.Cached, Value: o.Value}); err != nil {
			return fmt.Errorf("encode %s: %w", o.Item.ID, err)
		}
	}
	if err := fsutil.WriteFileAtomic(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func newProgressBar(total int, w io.Writer, silent bool) *progressbar.ProgressBar {
	if silent {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Fetching"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("req"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
