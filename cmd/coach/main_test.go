package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/myrjola/coach/internal/coach"
	"github.com/myrjola/coach/internal/testhelpers"
)

func newEnv(t *testing.T) func(string) (string, bool) {
	t.Helper()
	env := map[string]string{
		"COACH_SQLITE_URL": filepath.Join(t.TempDir(), "coach.sqlite3"),
		"COACH_LOG_LEVEL":  "error",
		"COACH_ATHLETE_ID": "a1",
	}
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func runCLI(t *testing.T, lookupEnv func(string) (string, bool), args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(t.Context(), args, &out, lookupEnv); err != nil {
		t.Fatalf("coach %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestCLI_planAndAdherence(t *testing.T) {
	env := newEnv(t)

	out := runCLI(t, env, "athlete", "--name", "Ada", "--pool-length", "50")
	if !strings.Contains(out, "Ada (a1)") || !strings.Contains(out, "pool 50m") {
		t.Errorf("athlete output = %q", out)
	}

	out = runCLI(t, env, "plan", "--start", "2026-01-19", "--weeks", "2")
	if !strings.Contains(out, "8 workouts, 8 new") {
		t.Errorf("plan output = %q, want 8 new workouts", out)
	}
	out = runCLI(t, env, "plan", "--start", "2026-01-19", "--weeks", "2")
	if !strings.Contains(out, "8 workouts, 0 new") {
		t.Errorf("second plan output = %q, want no new workouts", out)
	}

	out = runCLI(t, env, "upcoming", "--from", "2026-01-19", "--days", "7")
	for _, want := range []string{"swim_a", "lift_a", "cardio_interval", "swim_b"} {
		if !strings.Contains(out, want) {
			t.Errorf("upcoming output misses %s:\n%s", want, out)
		}
	}

	runCLI(t, env, "log", "swim", "45m", "--at", "2026-01-19T07:00:00Z")
	out = runCLI(t, env, "log", "swim", "45m", "--at", "2026-01-19T07:00:00Z")
	if !strings.Contains(out, "already logged") {
		t.Errorf("second log output = %q, want already logged", out)
	}

	out = runCLI(t, env, "adherence", "--from", "2026-01-19", "--days", "7")
	if !strings.Contains(out, "overall    1/4") {
		t.Errorf("adherence output = %q, want one of four completed", out)
	}

	backup := filepath.Join(t.TempDir(), "backup.sqlite3")
	runCLI(t, env, "backup", backup)
	if _, err := os.Stat(backup); err != nil {
		t.Errorf("backup missing: %v", err)
	}
	var out2 bytes.Buffer
	if err := run(t.Context(), []string{"backup", backup}, &out2, env); err == nil {
		t.Error("backup over an existing file succeeded")
	}
}

func TestCLI_reviewWithoutRemote(t *testing.T) {
	env := newEnv(t)
	runCLI(t, env, "athlete", "--name", "Ada")
	runCLI(t, env, "plan", "--start", "2026-01-19", "--weeks", "2")

	out := runCLI(t, env, "evaluate", "--date", "2026-01-26")
	if !strings.Contains(out, "for 2026-01-26") {
		t.Errorf("evaluate output = %q", out)
	}
	out = runCLI(t, env, "review", "show")
	if !strings.Contains(out, "for 2026-01-26") {
		t.Errorf("review show output = %q", out)
	}

	var stderr bytes.Buffer
	err := run(t.Context(), []string{"reconcile"}, &stderr, env)
	if err == nil || !strings.Contains(err.Error(), "run command") {
		t.Errorf("reconcile without remote error = %v, want failure", err)
	}
}

func TestDaemon_healthz(t *testing.T) {
	d := &daemon{
		service:  nil,
		logger:   testhelpers.TestLogger(t),
		recorder: nil,
		slowSync: time.Minute,
		timeout:  time.Minute,
		mu:       sync.Mutex{},
		lastRun:  nil,
		lastErr:  nil,
	}
	srv := httptest.NewServer(d.routes(t.Context()))
	t.Cleanup(srv.Close)

	get := func() health {
		t.Helper()
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/healthz", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		defer resp.Body.Close()
		var h health
		if err = json.NewDecoder(resp.Body).Decode(&h); err != nil {
			t.Fatalf("decode health: %v", err)
		}
		return h
	}

	if h := get(); h.Status != "ok" || h.LastRun != nil {
		t.Errorf("health = %+v, want ok without runs", h)
	}

	d.mu.Lock()
	d.lastRun = &coach.SyncRun{
		ID:         "r1",
		Date:       time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC),
		Trigger:    coach.TriggerScheduled,
		Status:     coach.RunSuccess,
		StartedAt:  time.Time{},
		FinishedAt: nil,
		Summary:    coach.RunSummary{},
	}
	d.mu.Unlock()
	if h := get(); h.LastRun == nil || h.LastRun.Status != "success" || h.LastRun.Date != "2026-01-26" {
		t.Errorf("health = %+v, want last run success on 2026-01-26", h)
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics status = %d", resp.StatusCode)
	}
}
