package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/myrjola/coach/internal/errors"
	"github.com/myrjola/coach/internal/logging"
)

// get fetches path and returns the body of a 200 response.
func get(ctx context.Context, client *http.Client, url string) (_ []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		err = errors.Join(err, resp.Body.Close())
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("unexpected status", slog.Int("status", resp.StatusCode), slog.String("url", url))
	}
	return body, nil
}

func waitForReady(ctx context.Context, client *http.Client, baseURL string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond //nolint:mnd // quick first retry.
	b.MaxElapsedTime = 30 * time.Second        //nolint:mnd // deploys take a while.
	return backoff.Retry(func() error {
		body, err := get(ctx, client, baseURL+"/healthz")
		if err != nil {
			return err
		}
		var h struct {
			Status string `json:"status"`
		}
		if err = json.Unmarshal(body, &h); err != nil {
			return backoff.Permanent(fmt.Errorf("decode health: %w", err))
		}
		if h.Status != "ok" {
			return errors.New("daemon not healthy", slog.String("status", h.Status))
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

func checkMetrics(ctx context.Context, client *http.Client, baseURL string) error {
	body, err := get(ctx, client, baseURL+"/metrics")
	if err != nil {
		return err
	}
	for _, metric := range []string{"coach_reconcile_queue_items", "go_goroutines"} {
		if !strings.Contains(string(body), metric) {
			return errors.New("metric missing", slog.String("metric", metric))
		}
	}
	return nil
}

func main() {
	logger := logging.NewLogger(os.Stdout, slog.LevelInfo)
	ctx := context.Background()

	if len(os.Args) != 2 { //nolint:mnd // we expect only the daemon address to be passed as argument.
		logger.LogAttrs(ctx, slog.LevelError, "usage: smoketest <host:port>")
		os.Exit(1)
	}
	var (
		addr   = os.Args[1]
		start  = time.Now()
		client = &http.Client{Timeout: 5 * time.Second} //nolint:mnd // generous for a health check.
	)
	ctx = logging.WithAttrs(ctx, slog.String("addr", addr))
	baseURL := "https://" + addr
	if strings.Contains(addr, "localhost") || strings.HasPrefix(addr, "127.") {
		baseURL = "http://" + addr
	}

	if err := waitForReady(ctx, client, baseURL); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "daemon not ready in time", errors.SlogError(err))
		os.Exit(1)
	}
	if err := checkMetrics(ctx, client, baseURL); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "metrics check failed", errors.SlogError(err))
		os.Exit(1)
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "smoke test successful", slog.Duration("duration", time.Since(start)))
}
