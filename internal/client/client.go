// Package client talks to a running linkarchive server: it submits work,
// polls the returned task location and cancels tasks.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/podushkina/linkarchive/internal/task"
)

var ErrUnknownTask = errors.New("unknown task")

type Status struct {
	Status task.Status     `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         httpClient,
		pollInterval: time.Second,
	}
}

// SetPollInterval is used when the server sends no Retry-After.
func (c *Client) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

func (c *Client) AddLink(ctx context.Context, link, description string) (string, error) {
	body, err := json.Marshal(map[string]string{"link": link, "description": description})
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "/add", "application/json", body)
}

func (c *Client) Search(ctx context.Context, description string) (string, error) {
	return c.submit(ctx, "/search", "text/plain", []byte(description))
}

func (c *Client) submit(ctx context.Context, path, contentType string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", fmt.Errorf("submit %s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("submit %s: response has no location", path)
	}
	return loc, nil
}

// Get fetches the current status at location. The Retry-After hint, if any,
// is returned alongside.
func (c *Client) Get(ctx context.Context, location string) (Status, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(location), nil)
	if err != nil {
		return Status{}, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, 0, fmt.Errorf("get task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return Status{}, 0, ErrUnknownTask
	}
	if resp.StatusCode != http.StatusOK {
		return Status{}, 0, fmt.Errorf("get task: unexpected status %d", resp.StatusCode)
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, 0, fmt.Errorf("decode task status: %w", err)
	}

	var wait time.Duration
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		wait = time.Duration(secs) * time.Second
	}
	return st, wait, nil
}

// Wait polls location until the task is terminal or ctx is done.
func (c *Client) Wait(ctx context.Context, location string) (Status, error) {
	for {
		st, hint, err := c.Get(ctx, location)
		if err != nil {
			return Status{}, err
		}
		if st.Status.Terminal() {
			return st, nil
		}

		wait := c.pollInterval
		if hint > 0 {
			wait = hint
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) Cancel(ctx context.Context, location string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.resolve(location), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cancel task: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// resolve accepts a full URL, a /tasks/{id} path or a bare id.
func (c *Client) resolve(location string) string {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return location
	case strings.HasPrefix(location, "/"):
		return c.baseURL + location
	default:
		return c.baseURL + "/tasks/" + location
	}
}
