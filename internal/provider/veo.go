package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Veo image-to-video adapter
// Uses the Google Gen AI SDK. The source photo is fetched and passed as
// raw bytes for the first frame; the prompt describes the motion that
// should bring it to life. The operation name doubles as the job id for
// polling.
// ---------------------------------------------------------------------------

const defaultVeoModel = "veo-3.1-generate-preview"

type Veo struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewVeo(apiKey, model string) *Veo {
	if model == "" {
		model = defaultVeoModel
	}
	return &Veo{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (v *Veo) Name() string { return KindVeo }

func (v *Veo) client(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  v.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// Submit starts an async Veo generation and returns the operation name.
func (v *Veo) Submit(ctx context.Context, imageURL, prompt string) (string, error) {
	client, err := v.client(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create genai client: %v", ErrUnavailable, err)
	}

	// The Gemini API backend takes inline image bytes, not URLs.
	imageData, mimeType, err := v.fetchImage(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("%w: failed to fetch source image: %v", ErrUnavailable, err)
	}

	image := &genai.Image{
		ImageBytes: imageData,
		MIMEType:   mimeType,
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:      "9:16",
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}

	operation, err := client.Models.GenerateVideos(ctx, v.model, prompt, image, config)
	if err != nil {
		return "", fmt.Errorf("%w: failed to start video generation: %v", ErrUnavailable, err)
	}

	log.Printf("[Veo] Operation started: %s (imageSize=%d bytes)", operation.Name, len(imageData))
	return operation.Name, nil
}

func (v *Veo) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}

	return data, mimeType, nil
}

// Poll fetches the operation once and normalizes its state.
func (v *Veo) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	client, err := v.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create genai client: %v", ErrTransient, err)
	}

	operation := &genai.GenerateVideosOperation{Name: jobID}
	operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to poll operation: %v", ErrTransient, err)
	}

	return mapVeoOperation(operation), nil
}

func mapVeoOperation(operation *genai.GenerateVideosOperation) *PollResult {
	if !operation.Done {
		return &PollResult{Status: StatusProcessing}
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return &PollResult{Status: StatusFailed, Err: string(errJSON)}
	}

	if operation.Response == nil {
		return &PollResult{Status: StatusFailed, Err: "operation completed without a response"}
	}

	// Safety filters drop videos without an operation-level error; check
	// the filter count before the video list so the reason survives.
	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unspecified"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return &PollResult{
			Status: StatusFailed,
			Err:    fmt.Sprintf("video blocked by safety filters: %d video(s) filtered, reasons: %s", operation.Response.RAIMediaFilteredCount, reasons),
		}
	}

	if len(operation.Response.GeneratedVideos) == 0 {
		return &PollResult{Status: StatusFailed, Err: "no videos in completed operation"}
	}

	video := operation.Response.GeneratedVideos[0]
	if video.Video == nil || video.Video.URI == "" {
		return &PollResult{Status: StatusFailed, Err: "generated video has no downloadable URI"}
	}

	return &PollResult{Status: StatusCompleted, VideoURL: video.Video.URI}
}
