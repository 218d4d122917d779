// Package flightrecorder keeps a rolling execution trace so that a slow or failed daily sync can be inspected
// after the fact.
package flightrecorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/trace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/myrjola/coach/internal/errors"
)

const (
	defaultMinAge   = 5 * time.Minute
	defaultMaxBytes = 64 * 1024 * 1024
	defaultCooldown = 30 * time.Minute
)

// Recorder owns a [trace.FlightRecorder] and writes its window to files on demand.
type Recorder struct {
	logger         *slog.Logger
	flightRecorder *trace.FlightRecorder
	directory      string
	cooldown       time.Duration
	// lastCapture is a Unix timestamp.
	lastCapture atomic.Int64
}

type Config struct {
	MinAge    time.Duration
	MaxBytes  uint64
	Directory string
	// Cooldown is the minimum time between two captures. Zero uses 30 minutes, negative disables it.
	Cooldown time.Duration
}

// New creates the trace directory if needed. The recorder is not started.
func New(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if cfg.Directory == "" {
		return nil, errors.New("traces directory is required")
	}
	if stat, err := os.Stat(cfg.Directory); err != nil {
		if err = os.MkdirAll(cfg.Directory, 0o700); err != nil { //nolint:mnd // owner only.
			return nil, fmt.Errorf("create traces directory: %w", err)
		}
	} else if !stat.IsDir() {
		return nil, errors.New("traces path is not a directory", slog.String("path", cfg.Directory))
	}
	if cfg.MinAge == 0 {
		cfg.MinAge = defaultMinAge
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &Recorder{
		logger:         logger,
		flightRecorder: trace.NewFlightRecorder(trace.FlightRecorderConfig{MinAge: cfg.MinAge, MaxBytes: cfg.MaxBytes}),
		directory:      cfg.Directory,
		cooldown:       max(cfg.Cooldown, 0),
		lastCapture:    atomic.Int64{},
	}, nil
}

func (r *Recorder) Start(ctx context.Context) error {
	if err := r.flightRecorder.Start(); err != nil {
		return fmt.Errorf("start flight recorder: %w", err)
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "flight recorder started",
		slog.String("directory", r.directory), slog.Duration("cooldown", r.cooldown))
	return nil
}

func (r *Recorder) Stop(ctx context.Context) {
	r.flightRecorder.Stop()
	r.logger.LogAttrs(ctx, slog.LevelInfo, "flight recorder stopped")
}

// Capture writes the recorded window to a file named after reason and returns its path. It returns an empty
// path without error while the cooldown of the previous capture lasts.
func (r *Recorder) Capture(ctx context.Context, reason string) (string, error) {
	now := time.Now()
	last := r.lastCapture.Load()
	if last > 0 && now.Sub(time.Unix(last, 0)) < r.cooldown {
		r.logger.LogAttrs(ctx, slog.LevelDebug, "skipping trace capture during cooldown",
			slog.String("reason", reason), slog.Time("last_capture", time.Unix(last, 0)))
		return "", nil
	}
	if !r.lastCapture.CompareAndSwap(last, now.Unix()) {
		return "", nil
	}

	name := fmt.Sprintf("%s-%s.trace", strings.ReplaceAll(reason, " ", "-"), now.UTC().Format("20060102-150405"))
	path := filepath.Join(r.directory, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create trace file: %w", err)
	}
	n, err := r.flightRecorder.WriteTo(file)
	if err = errors.Join(err, file.Close()); err != nil {
		return "", errors.Wrap(err, "write trace", slog.String("file", path))
	}
	r.logger.LogAttrs(ctx, slog.LevelWarn, "captured trace",
		slog.String("reason", reason), slog.String("file", path), slog.Int64("bytes", n))
	return path, nil
}
