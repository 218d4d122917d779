package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/myrjola/coach/internal/errors"
)

// ErrRemoteNotFound is returned by GetWorkout when the remote calendar no longer has the workout.
var ErrRemoteNotFound = errors.NewSentinel("remote workout not found")

// RemoteSyncError is a failed call to the remote calendar.
type RemoteSyncError struct {
	Op string
	// StatusCode is zero when no response was received.
	StatusCode int
	// Transient errors are worth retrying: network failures, 429 and 5xx responses.
	Transient bool
	Err       error
}

func (e *RemoteSyncError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s: status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *RemoteSyncError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a RemoteSyncError worth retrying.
func IsTransient(err error) bool {
	var syncErr *RemoteSyncError
	return errors.As(err, &syncErr) && syncErr.Transient
}

// Client talks JSON to the remote workout calendar.
type Client struct {
	client  *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewClient creates a client for the calendar at baseURL authenticating with a bearer token. A nil httpClient
// uses one with a 30-second timeout.
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second} //nolint:exhaustruct,mnd // 30s.
	}
	return &Client{client: httpClient, baseURL: baseURL, token: token, logger: logger}
}

type scheduleRequest struct {
	Date string `json:"date"`
}

// CreateWorkout creates the workout and schedules it on date. It returns the remote workout id.
func (c *Client) CreateWorkout(ctx context.Context, p Payload, date time.Time) (string, error) {
	p.WorkoutID = ""
	var created Payload
	if err := c.do(ctx, "create", http.MethodPost, "/workout-service/workout", p, &created); err != nil {
		return "", err
	}
	id := created.WorkoutID.String()
	if id == "" {
		return "", &RemoteSyncError{
			Op: "create", StatusCode: 0, Transient: false, Err: errors.New("response without workoutId"),
		}
	}
	schedulePath := "/workout-service/schedule/" + url.PathEscape(id)
	if err := c.do(ctx, "schedule", http.MethodPost, schedulePath,
		scheduleRequest{Date: date.Format(time.DateOnly)}, nil); err != nil {
		return id, err
	}
	c.logger.LogAttrs(ctx, slog.LevelDebug, "created remote workout",
		slog.String("remote_workout_id", id), slog.String("date", date.Format(time.DateOnly)))
	return id, nil
}

// DeleteWorkout deletes the workout. A workout that is already gone counts as deleted.
func (c *Client) DeleteWorkout(ctx context.Context, id string) error {
	err := c.do(ctx, "delete", http.MethodDelete, "/workout-service/workout/"+url.PathEscape(id), nil, nil)
	var syncErr *RemoteSyncError
	if errors.As(err, &syncErr) && syncErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// GetWorkout reads the workout back. A missing workout is ErrRemoteNotFound.
func (c *Client) GetWorkout(ctx context.Context, id string) (Payload, error) {
	var p Payload
	err := c.do(ctx, "get", http.MethodGet, "/workout-service/workout/"+url.PathEscape(id), nil, &p)
	var syncErr *RemoteSyncError
	if errors.As(err, &syncErr) && syncErr.StatusCode == http.StatusNotFound {
		return Payload{}, fmt.Errorf("workout %s: %w", id, ErrRemoteNotFound)
	}
	if err != nil {
		return Payload{}, err
	}
	return p, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in any, out any) (err error) {
	var body io.Reader
	if in != nil {
		var data []byte
		if data, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return &RemoteSyncError{Op: op, StatusCode: 0, Transient: ctx.Err() == nil, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close response body: %w", closeErr))
		}
	}()
	c.logger.LogAttrs(ctx, slog.LevelDebug, "remote calendar call",
		slog.String("op", op),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:mnd // enough for an error message.
		cause := errors.New(string(bytes.TrimSpace(msg)))
		if readErr != nil {
			cause = errors.Join(cause, fmt.Errorf("read error body: %w", readErr))
		}
		return &RemoteSyncError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError,
			Err:        cause,
		}
	}
	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteSyncError{Op: op, StatusCode: resp.StatusCode, Transient: false, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
