// Package render is the client for the external rendering service that
// assembles completed clips plus music into one final video. The service
// is a black box: submit a job, poll its status.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const renderHTTPTimeout = 30 * time.Second

// ErrTransient marks network/5xx poll failures that may be retried.
var ErrTransient = errors.New("transient render service error")

// ErrRejected means the render service refused the job at submission.
var ErrRejected = errors.New("render request rejected")

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Request is the compilation payload: ordered clip video locations plus
// optional music and transition settings.
type Request struct {
	Clips      []string `json:"clips"`
	MusicURL   string   `json:"music_url,omitempty"`
	Transition string   `json:"transition,omitempty"`
}

// Result is the renderer's answer to a status poll.
type Result struct {
	Status    Status `json:"status"`
	OutputURL string `json:"output_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: renderHTTPTimeout,
		},
	}
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit sends the compilation request and returns the render job id.
func (c *Client) Submit(ctx context.Context, req *Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: submit request failed: %v", ErrRejected, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read submit response: %v", ErrRejected, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%w: renderer returned status %d: %s", ErrRejected, resp.StatusCode, truncate(string(respBody), 200))
	}

	var sr submitResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("%w: failed to parse submit response: %v", ErrRejected, err)
	}
	if sr.JobID == "" {
		return "", fmt.Errorf("%w: no job id in submit response", ErrRejected)
	}

	log.Printf("[Render] Job submitted (id=%s, clips=%d)", sr.JobID, len(req.Clips))
	return sr.JobID, nil
}

// GetStatus polls one render job.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/v1/render/%s", c.baseURL, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: status request failed: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read status response: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: renderer returned status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render status returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse status response: %v", ErrTransient, err)
	}

	return &result, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
