package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ---------------------------------------------------------------------------
// Runway image-to-video adapter
// Uses the Runway REST API: submit a generation task, then poll it by id.
// One Poll call performs exactly one status request — the job tracker owns
// the retry cadence and the overall budget.
// ---------------------------------------------------------------------------

const (
	runwayBaseURL      = "https://api.dev.runwayml.com/v1"
	runwayDefaultModel = "gen4_turbo"
	runwayAPIVersion   = "2024-11-06"
	runwayHTTPTimeout  = 30 * time.Second
)

type Runway struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewRunway(apiKey, baseURL, model string) *Runway {
	if baseURL == "" {
		baseURL = runwayBaseURL
	}
	if model == "" {
		model = runwayDefaultModel
	}
	return &Runway{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: runwayHTTPTimeout,
		},
	}
}

func (r *Runway) Name() string { return KindRunway }

// runwayTaskRequest is the body for POST /image_to_video.
type runwayTaskRequest struct {
	Model       string `json:"model"`
	PromptImage string `json:"promptImage"`
	PromptText  string `json:"promptText,omitempty"`
}

type runwayTaskResponse struct {
	ID string `json:"id"`
}

// runwayTask is the response from GET /tasks/{id}.
//
// Status values: PENDING, RUNNING, SUCCEEDED, FAILED, THROTTLED.
// Output holds result URLs when SUCCEEDED.
type runwayTask struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Output  []string `json:"output,omitempty"`
	Failure string   `json:"failure,omitempty"`
}

// Submit starts an image-to-video task. Vendor rejections (4xx) surface
// as ErrUnavailable so the caller can reverse the debit before anything
// is left in flight.
func (r *Runway) Submit(ctx context.Context, imageURL, prompt string) (string, error) {
	body, err := json.Marshal(runwayTaskRequest{
		Model:       r.model,
		PromptImage: imageURL,
		PromptText:  prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/image_to_video", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	r.setHeaders(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: submit request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read submit response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%w: runway returned status %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(respBody), 200))
	}

	var task runwayTaskResponse
	if err := json.Unmarshal(respBody, &task); err != nil {
		return "", fmt.Errorf("%w: failed to parse submit response: %v", ErrUnavailable, err)
	}
	if task.ID == "" {
		return "", fmt.Errorf("%w: no task id in submit response", ErrUnavailable)
	}

	log.Printf("[Runway] Task submitted (id=%s, model=%s)", task.ID, r.model)
	return task.ID, nil
}

// Poll fetches the task once and normalizes its state. Network errors and
// 5xx responses wrap ErrTransient; a vendor-reported task failure is a
// permanent PollResult with StatusFailed.
func (r *Runway) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/tasks/%s", r.baseURL, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	r.setHeaders(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: poll request failed: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read poll response: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: runway returned status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runway poll returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var task runwayTask
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("%w: failed to parse poll response: %v", ErrTransient, err)
	}

	switch task.Status {
	case "SUCCEEDED":
		if len(task.Output) == 0 {
			return &PollResult{Status: StatusFailed, Err: "task succeeded with no output"}, nil
		}
		return &PollResult{Status: StatusCompleted, VideoURL: task.Output[0]}, nil
	case "FAILED":
		msg := task.Failure
		if msg == "" {
			msg = "generation failed"
		}
		return &PollResult{Status: StatusFailed, Err: msg}, nil
	case "RUNNING":
		return &PollResult{Status: StatusProcessing}, nil
	default:
		// PENDING, THROTTLED and anything unrecognized keep the job alive.
		return &PollResult{Status: StatusPending}, nil
	}
}

func (r *Runway) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Runway-Version", runwayAPIVersion)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
