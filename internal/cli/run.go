// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gogama/reqflow"
	"github.com/gogama/reqflow/cache"
	"github.com/gogama/reqflow/cache/sqlitecache"
	"github.com/gogama/reqflow/internal/logging"
	"github.com/gogama/reqflow/internal/manifest"
	"github.com/gogama/reqflow/metrics"
	"github.com/gogama/reqflow/request"
	"github.com/gogama/reqflow/retry"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

type runOptions struct {
	file        string
	concurrency int
	rate        float64
	cacheDB     string
	cacheTTL    time.Duration
	retryBase   time.Duration
	retryMax    time.Duration
	metricsAddr string
	insecure    bool
}

// result is the JSON line printed for every request.
type result struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	Status     int    `json:"status,omitempty"`
	Retries    int    `json:"retries"`
	FromCache  bool   `json:"from_cache,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Responses  []any  `json:"responses"`
}

func newRunCommand(g *globalFlags) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run -f <manifest.yaml>",
		Short: "Execute the requests of a manifest",
		Long: `Execute every request declared in a manifest concurrently and print
one JSON line per request, in manifest order, once all have settled.

The command fails if any request fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(g.logConfig(cmd))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, opts, logger, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "Path to the manifest")
	f.IntVar(&opts.concurrency, "concurrency", 8, "Maximum attempts in progress at once (0 for no limit)")
	f.Float64Var(&opts.rate, "rate", 0, "Maximum attempts per second (0 for no limit)")
	f.StringVar(&opts.cacheDB, "cache-db", "", "SQLite database for force_cache requests (in memory if empty)")
	f.DurationVar(&opts.cacheTTL, "cache-ttl", 0, "Lifetime of cached responses (0 for no expiry)")
	f.DurationVar(&opts.retryBase, "retry-base", 100*time.Millisecond, "Initial retry wait, doubled after every retry")
	f.DurationVar(&opts.retryMax, "retry-max", 5*time.Second, "Maximum retry wait")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	f.BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification for secure requests")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func run(ctx context.Context, opts *runOptions, logger *slog.Logger, out io.Writer) error {
	if opts.retryBase <= 0 || opts.retryMax < opts.retryBase {
		return errors.New("retry-base must be positive and retry-max at least retry-base")
	}
	m, err := manifest.Load(opts.file)
	if err != nil {
		return err
	}
	ds, err := m.Descriptors(ctx)
	if err != nil {
		return err
	}

	c, closeCache, err := openCache(ctx, opts)
	if err != nil {
		return err
	}
	defer closeCache()

	reg := prometheus.NewRegistry()
	hooks := &reqflow.HookGroup{}
	metrics.New(reg).Install(hooks)
	if opts.metricsAddr != "" {
		shutdown, err := serveMetrics(opts.metricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	eng := &reqflow.Engine{
		HTTPDoer:    &http.Client{},
		TLSDoer:     tlsClient(opts.insecure),
		RetryPolicy: retry.NewPolicy(retry.DefaultDecider, retry.NewExpWaiter(opts.retryBase, opts.retryMax, rand.NewPCG(uint64(time.Now().UnixNano()), 0))),
		Hooks:       hooks,
		Cache:       c,
		Concurrency: opts.concurrency,
		Logger:      logger,
	}
	if opts.rate > 0 {
		eng.Limiter = rate.NewLimiter(rate.Limit(opts.rate), 1)
	}

	for _, d := range ds {
		if err := eng.Submit(d); err != nil {
			return err
		}
	}
	if err := eng.Close(); err != nil {
		return err
	}
	eng.CloseIdleConnections()

	enc := json.NewEncoder(out)
	failed := 0
	for i, d := range ds {
		r := newResult(m.Requests[i].Name, d)
		if r.Error != "" {
			failed++
		}
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "writing result")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(ds))
	}
	return nil
}

func newResult(name string, d *request.Descriptor[any]) result {
	p, e := d.Plan(), d.Execution()
	r := result{
		Name:       name,
		ID:         p.ID(),
		Method:     string(p.Method),
		Status:     e.StatusCode,
		Retries:    e.RetryCount,
		FromCache:  e.FromCache,
		DurationMS: e.Duration().Milliseconds(),
		Responses:  d.Responses(),
	}
	if p.URL != nil {
		r.URL = p.URL.Redacted()
	}
	if e.Err != nil {
		r.Error = e.Err.Error()
		r.Kind = e.Kind().String()
	}
	return r
}

func openCache(ctx context.Context, opts *runOptions) (cache.Cache, func(), error) {
	if opts.cacheDB == "" {
		return cache.NewMemory(opts.cacheTTL), func() {}, nil
	}
	c, err := sqlitecache.Open(ctx, sqlitecache.Config{Path: opts.cacheDB, TTL: opts.cacheTTL})
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listening for metrics")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
