// Package oracle is the HTTP client for the external decision service that
// answers resolution questions asynchronously: a job is submitted, then its
// status is polled until it is done or failed.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/evetabi/betledger/internal/domain"
)

// JobState is the decision service's view of a job.
type JobState string

const (
	JobPending JobState = "pending"
	JobDone    JobState = "done"
	JobError   JobState = "error"
)

// JobStatus is the body of GET /jobs/{id}.
type JobStatus struct {
	ID     string   `json:"id"`
	State  JobState `json:"status"`
	Result string   `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Options configures the client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // per HTTP attempt
	Retries int           // extra attempts on 5xx or transport errors
	Backoff time.Duration // first retry delay, doubled each attempt
}

// Client talks to the decision service.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	retries int
	backoff time.Duration
}

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("oracle: invalid base url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	return &Client{
		base:    u,
		apiKey:  opts.APIKey,
		http:    &http.Client{Timeout: opts.Timeout},
		retries: max(opts.Retries, 0),
		backoff: opts.Backoff,
	}, nil
}

// SubmitJob posts prompt and returns the job id.
func (c *Client) SubmitJob(ctx context.Context, prompt string) (string, error) {
	body, _ := json.Marshal(map[string]string{"prompt": prompt})

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", domain.External("oracle", errors.New("submit: empty job id"))
	}
	return out.ID, nil
}

// JobStatus fetches the current state of jobID.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var out JobStatus
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = jobID
	}
	return &out, nil
}

// retryable marks failures worth another attempt.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	delay := c.backoff
	var last error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err := c.once(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		var r retryable
		if !errors.As(err, &r) || ctx.Err() != nil {
			return domain.External("oracle", err)
		}
		last = r.err
	}
	return domain.External("oracle", fmt.Errorf("%s %s: retries exhausted: %w", method, path, last))
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return retryable{fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return retryable{fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)}
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(payload, 200))
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
