// Package remote implements the collaborator services over the remote HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/models"
	"github.com/kimhsiao/journalsync/internal/sync/dispatch"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 15 * time.Second

// IdempotencyHeader carries the queued operation id on replayed writes.
const IdempotencyHeader = "Idempotency-Key"

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the remote journal, mood, to-do and social endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client. The base URL must be absolute.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf(errors.ErrConfig, "invalid remote base URL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Services returns the client bound to every collaborator slot.
func (c *Client) Services() dispatch.Services {
	return dispatch.Services{Journal: c, Mood: c, Todo: c, Social: c}
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("remote returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

func classify(err error) error {
	if se, ok := err.(*StatusError); ok && !se.Retryable() {
		return errors.Permanent(err)
	}
	return errors.Transient(err)
}

// do sends body as JSON and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Permanent(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := dispatch.OperationID(ctx); id != "" {
		req.Header.Set(IdempotencyHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classify(&StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		// The write was accepted; only the echo is unreadable.
		return errors.Transient(fmt.Errorf("decode %s %s response: %w", method, path, err))
	}
	return nil
}

// CreateJournalEntry posts to the connection's journal.
func (c *Client) CreateJournalEntry(ctx context.Context, in models.CreateJournalEntry) (*models.JournalEntryView, error) {
	var out models.JournalEntryView
	path := "/connections/" + url.PathEscape(in.ConnectionID) + "/journal-entries"
	if err := c.do(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateMoodEntry logs a mood.
func (c *Client) CreateMoodEntry(ctx context.Context, in models.CreateMoodEntry) (*models.MoodEntryView, error) {
	var out models.MoodEntryView
	if err := c.do(ctx, http.MethodPost, "/moods", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTodoItem creates a to-do item.
func (c *Client) CreateTodoItem(ctx context.Context, in models.CreateTodoItem) (*models.TodoItemView, error) {
	var out models.TodoItemView
	if err := c.do(ctx, http.MethodPost, "/todos", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTodoItem patches a to-do item.
func (c *Client) UpdateTodoItem(ctx context.Context, in models.UpdateTodoItem) (*models.TodoItemView, error) {
	var out models.TodoItemView
	if err := c.do(ctx, http.MethodPatch, "/todos/"+url.PathEscape(in.TodoID), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteTodoItem marks a to-do item done.
func (c *Client) CompleteTodoItem(ctx context.Context, in models.CompleteTodoItem) (*models.TodoItemView, error) {
	var out models.TodoItemView
	if err := c.do(ctx, http.MethodPost, "/todos/"+url.PathEscape(in.TodoID)+"/complete", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePost publishes a post.
func (c *Client) CreatePost(ctx context.Context, in models.CreatePost) (*models.PostView, error) {
	var out models.PostView
	if err := c.do(ctx, http.MethodPost, "/posts", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func listPath(base string, limit int) string {
	if limit > 0 {
		return base + "?limit=" + strconv.Itoa(limit)
	}
	return base
}

// ListPosts fetches the feed.
func (c *Client) ListPosts(ctx context.Context, limit int) ([]models.PostView, error) {
	var out []models.PostView
	if err := c.do(ctx, http.MethodGet, listPath("/posts", limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListJournalEntries fetches a connection's journal.
func (c *Client) ListJournalEntries(ctx context.Context, connectionID string, limit int) ([]models.JournalEntryView, error) {
	var out []models.JournalEntryView
	path := listPath("/connections/"+url.PathEscape(connectionID)+"/journal-entries", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMoodEntries fetches a user's mood history.
func (c *Client) ListMoodEntries(ctx context.Context, userID string, limit int) ([]models.MoodEntryView, error) {
	var out []models.MoodEntryView
	path := listPath("/users/"+url.PathEscape(userID)+"/moods", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	_ dispatch.JournalService = (*Client)(nil)
	_ dispatch.MoodService    = (*Client)(nil)
	_ dispatch.TodoService    = (*Client)(nil)
	_ dispatch.SocialService  = (*Client)(nil)
)
