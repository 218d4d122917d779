package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/myrjola/coach/internal/coach"
	"github.com/myrjola/coach/internal/errors"
	"github.com/myrjola/coach/internal/flightrecorder"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
)

const defaultTimeout = 2 * time.Second

// LogAddrKey is the log attribute carrying the resolved listen address, useful with localhost:0.
const LogAddrKey = "addr"

// daemon runs the scheduled daily sync and serves metrics and health.
type daemon struct {
	service  *coach.Service
	logger   *slog.Logger
	recorder *flightrecorder.Recorder
	// slowSync is the run duration after which a trace is captured.
	slowSync time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	lastRun *coach.SyncRun
	lastErr error
}

func newDaemonCommand(a *app) *cobra.Command {
	var (
		traceDir string
		slowSync time.Duration
		timeout  time.Duration
		runNow   bool
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the daily sync on a cron schedule and serve /metrics and /healthz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d := &daemon{
				service:  a.service,
				logger:   a.logger,
				recorder: nil,
				slowSync: slowSync,
				timeout:  timeout,
				mu:       sync.Mutex{},
				lastRun:  nil,
				lastErr:  nil,
			}
			if traceDir != "" {
				recorder, err := flightrecorder.New(flightrecorder.Config{
					MinAge: 0, MaxBytes: 0, Directory: traceDir, Cooldown: 0,
				}, a.logger)
				if err != nil {
					return err
				}
				if err = recorder.Start(ctx); err != nil {
					return err
				}
				defer recorder.Stop(context.WithoutCancel(ctx))
				d.recorder = recorder
			}
			return d.run(ctx, a.cfg.Schedule, a.cfg.MetricsAddr, runNow)
		},
	}
	cmd.Flags().StringVar(&traceDir, "trace-dir", "", "capture execution traces of slow or failed syncs here")
	cmd.Flags().DurationVar(&slowSync, "slow-sync", time.Minute, "sync duration that triggers a trace capture")
	cmd.Flags().DurationVar(&timeout, "sync-timeout", 10*time.Minute, "deadline of one sync") //nolint:mnd // generous.
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run a sync on startup")
	return cmd
}

func (d *daemon) run(ctx context.Context, schedule, addr string, runNow bool) error {
	c := cron.New()
	if err := c.AddFunc(schedule, func() { d.sync(ctx, coach.TriggerScheduled) }); err != nil {
		return errors.Wrap(err, "schedule daily sync", slog.String("schedule", schedule))
	}
	c.Start()
	defer c.Stop()
	d.logger.LogAttrs(ctx, slog.LevelInfo, "scheduled daily sync", slog.String("schedule", schedule))

	if runNow {
		go d.sync(ctx, coach.TriggerManual)
	}
	if err := d.serve(ctx, addr); err != nil {
		return errors.Wrap(err, "serve")
	}
	return nil
}

func (d *daemon) sync(ctx context.Context, trigger coach.Trigger) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "daily sync panicked", errors.SlogError(errors.DecoratePanic(r)))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	run, err := d.service.RunDailySync(ctx, trigger)
	elapsed := time.Since(start)

	d.mu.Lock()
	d.lastRun, d.lastErr = &run, err
	d.mu.Unlock()

	switch {
	case err != nil:
		d.capture(ctx, "failed-sync")
	case elapsed > d.slowSync:
		d.logger.LogAttrs(ctx, slog.LevelWarn, "slow daily sync", slog.Duration("elapsed", elapsed))
		d.capture(ctx, "slow-sync")
	}
}

func (d *daemon) capture(ctx context.Context, reason string) {
	if d.recorder == nil {
		return
	}
	if _, err := d.recorder.Capture(context.WithoutCancel(ctx), reason); err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "trace capture failed", errors.SlogError(err))
	}
}

func (d *daemon) routes(ctx context.Context) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", d.healthy)
	mux.HandleFunc("POST /sync", func(w http.ResponseWriter, _ *http.Request) {
		go d.sync(context.WithoutCancel(ctx), coach.TriggerManual)
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

type runHealth struct {
	Date   string `json:"date"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type health struct {
	Status  string     `json:"status"`
	LastRun *runHealth `json:"last_run,omitempty"`
}

// healthy reports ok together with the outcome of the last sync run.
func (d *daemon) healthy(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()
	run, runErr := d.lastRun, d.lastErr
	d.mu.Unlock()

	h := health{Status: "ok", LastRun: nil}
	if run != nil {
		h.LastRun = &runHealth{Date: run.Date.Format(time.DateOnly), Status: string(run.Status), Error: ""}
		if runErr != nil {
			h.LastRun.Error = runErr.Error()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h)
}

// serve runs the HTTP server until ctx is cancelled.
func (d *daemon) serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		ErrorLog:          slog.NewLogLogger(d.logger.Handler(), slog.LevelError),
		Handler:           d.routes(ctx),
		IdleTimeout:       time.Minute,
		ReadTimeout:       defaultTimeout,
		WriteTimeout:      defaultTimeout,
		ReadHeaderTimeout: time.Second,
	}
	shutdownComplete := make(chan error, 1)
	go func() {
		<-ctx.Done()
		d.logger.LogAttrs(ctx, slog.LevelInfo, "shutting down server")
		shutdownContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownContext); err != nil {
			shutdownComplete <- fmt.Errorf("shutdown server: %w", err)
			return
		}
		shutdownComplete <- nil
	}()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("TCP listen: %w", err)
	}
	d.logger.LogAttrs(ctx, slog.LevelInfo, "starting server", slog.String(LogAddrKey, listener.Addr().String()))
	if err = srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server serve: %w", err)
	}
	return <-shutdownComplete
}
