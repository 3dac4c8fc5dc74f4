// Package transport talks to the row-store: a passive endpoint that accepts
// a JSON body with an action discriminator and answers {success, ...}.
//
// Requests are POSTed as text/plain so browser-hosted row-stores accept them
// without a CORS preflight. Every request carries the device id.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pomosync/pomosync/internal/schema"
)

// Action names understood by the row-store.
const (
	ActionGetTasks           = "get_tasks"
	ActionSyncTasks          = "sync_tasks"
	ActionGetCompletedTasks  = "get_completed_tasks"
	ActionSyncCompletedTasks = "sync_completed_tasks"
	ActionGetWorkSessions    = "get_work_sessions"
	ActionSyncWorkSessions   = "sync_work_sessions"
	ActionGetArchivedTasks   = "get_archived_tasks"
	ActionSyncArchivedTasks  = "sync_archived_tasks"
	ActionDeleteTask         = "delete_task"
	ActionCompleteTask       = "complete_task"
	ActionGetVersion         = "get_version"
)

// ContentType is sent with every request.
const ContentType = "text/plain;charset=utf-8"

// DefaultTimeout bounds a single request.
const DefaultTimeout = 10 * time.Second

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 32 << 20

// Version is the row-store schema version.
type Version struct {
	Version int    `json:"version"`
	Name    string `json:"versionName"`
}

// Options configures a Client.
type Options struct {
	Endpoint   string
	DeviceID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client is a row-store client. It is safe for concurrent use.
type Client struct {
	mu       sync.RWMutex
	endpoint string

	deviceID string
	timeout  time.Duration
	http     *http.Client
	logger   *log.Logger
}

// New creates a client. An empty endpoint makes every call fail with ErrNoEndpoint.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
	return &Client{
		endpoint: opts.Endpoint,
		deviceID: opts.DeviceID,
		timeout:  opts.Timeout,
		http:     opts.HTTPClient,
		logger:   opts.Logger,
	}
}

// SetEndpoint replaces the row-store URL. In-flight requests keep the old one.
func (c *Client) SetEndpoint(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if endpoint != c.endpoint {
		c.logger.Printf("Endpoint changed to %q", endpoint)
	}
	c.endpoint = endpoint
}

// Endpoint returns the current row-store URL.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool {
	return c.Endpoint() != ""
}

// DeviceID returns the id sent with every request.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// envelope is the part of every response the client inspects.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// call POSTs action with fields and decodes the response into out (if non-nil).
func (c *Client) call(ctx context.Context, action string, fields map[string]any, out any) error {
	endpoint := c.Endpoint()
	if endpoint == "" {
		return ErrNoEndpoint
	}

	body := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		body[k] = v
	}
	body["action"] = action
	body["deviceId"] = c.deviceID

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: failed to encode request: %w", action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", action, err)
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", action, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Action: action, Code: resp.StatusCode}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%s: %w: %v", action, ErrMalformedResponse, err)
	}
	if !env.Success {
		return &BackendError{Action: action, Reason: env.Error}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: %w: %v", action, ErrMalformedResponse, err)
		}
	}
	return nil
}

// dateField is sent as null when no day filter is wanted.
func dateField(day string) any {
	if day == "" {
		return nil
	}
	return day
}

// getCollection calls action and decodes the array under key. A missing
// or null key is a malformed response, never an empty collection: merging
// it would read as every record deleted remotely.
func getCollection[T any](ctx context.Context, c *Client, action, key string, fields map[string]any) ([]T, error) {
	var resp map[string]json.RawMessage
	if err := c.call(ctx, action, fields, &resp); err != nil {
		return nil, err
	}
	raw, ok := resp[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%s: %w: missing %q", action, ErrMalformedResponse, key)
	}
	items := []T{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%s: %w: %s: %v", action, ErrMalformedResponse, key, err)
	}
	return items, nil
}

// GetTasks pulls the active-task collection.
func (c *Client) GetTasks(ctx context.Context) ([]schema.Task, error) {
	return getCollection[schema.Task](ctx, c, ActionGetTasks, "tasks", nil)
}

// SyncTasks overwrites the row-store's active-task collection.
func (c *Client) SyncTasks(ctx context.Context, tasks []schema.Task) error {
	if tasks == nil {
		tasks = []schema.Task{}
	}
	return c.call(ctx, ActionSyncTasks, map[string]any{"tasks": tasks}, nil)
}

// GetCompletedTasks pulls completed tasks for a UTC day, or all of them when day is empty.
func (c *Client) GetCompletedTasks(ctx context.Context, day string) ([]schema.CompletedTask, error) {
	return getCollection[schema.CompletedTask](ctx, c, ActionGetCompletedTasks, "completedTasks", map[string]any{"date": dateField(day)})
}

// SyncCompletedTasks upserts completed tasks.
func (c *Client) SyncCompletedTasks(ctx context.Context, tasks []schema.CompletedTask) error {
	return c.call(ctx, ActionSyncCompletedTasks, map[string]any{"completedTasks": tasks}, nil)
}

// GetWorkSessions pulls work sessions for a UTC day, or all of them when day is empty.
func (c *Client) GetWorkSessions(ctx context.Context, day string) ([]schema.WorkSession, error) {
	return getCollection[schema.WorkSession](ctx, c, ActionGetWorkSessions, "workSessions", map[string]any{"date": dateField(day)})
}

// SyncWorkSessions upserts work sessions.
func (c *Client) SyncWorkSessions(ctx context.Context, sessions []schema.WorkSession) error {
	return c.call(ctx, ActionSyncWorkSessions, map[string]any{"workSessions": sessions}, nil)
}

// GetArchivedTasks pulls the archive.
func (c *Client) GetArchivedTasks(ctx context.Context) ([]schema.ArchivedTask, error) {
	return getCollection[schema.ArchivedTask](ctx, c, ActionGetArchivedTasks, "archivedTasks", nil)
}

// SyncArchivedTasks upserts archived tasks.
func (c *Client) SyncArchivedTasks(ctx context.Context, tasks []schema.ArchivedTask) error {
	return c.call(ctx, ActionSyncArchivedTasks, map[string]any{"archivedTasks": tasks}, nil)
}

// DeleteTask removes one task from the row-store's active collection.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.call(ctx, ActionDeleteTask, map[string]any{"taskId": id}, nil)
}

// CompleteTask asks the row-store to move task out of the active collection
// into the completed collection and record session (if any) in one request.
func (c *Client) CompleteTask(ctx context.Context, task schema.CompletedTask, session *schema.WorkSession) error {
	return c.call(ctx, ActionCompleteTask, map[string]any{"task": task, "workSession": session}, nil)
}

// GetVersion returns the row-store schema version.
func (c *Client) GetVersion(ctx context.Context) (Version, error) {
	var v Version
	err := c.call(ctx, ActionGetVersion, nil, &v)
	return v, err
}
