package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestVeoFetchImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	v := NewVeo("key", "")
	data, mimeType, err := v.fetchImage(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("unexpected bytes: %q", data)
	}
	if mimeType != "image/png" {
		t.Errorf("expected image/png, got %s", mimeType)
	}
}

func TestVeoFetchImageDefaultsMIMEType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0xff, 0xd8})
	}))
	defer server.Close()

	v := NewVeo("key", "")
	_, mimeType, err := v.fetchImage(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if mimeType != "image/jpeg" {
		t.Errorf("expected image/jpeg fallback, got %s", mimeType)
	}
}

func TestVeoFetchImageRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	v := NewVeo("key", "")
	if _, _, err := v.fetchImage(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for 404 image fetch")
	}
}

func TestMapVeoOperation(t *testing.T) {
	cases := []struct {
		name      string
		operation *genai.GenerateVideosOperation
		expected  Status
		videoURL  string
		errSubstr string
	}{
		{
			"running",
			&genai.GenerateVideosOperation{},
			StatusProcessing, "", "",
		},
		{
			"completed",
			&genai.GenerateVideosOperation{
				Done: true,
				Response: &genai.GenerateVideosResponse{
					GeneratedVideos: []*genai.GeneratedVideo{
						{Video: &genai.Video{URI: "https://veo.example/out.mp4"}},
					},
				},
			},
			StatusCompleted, "https://veo.example/out.mp4", "",
		},
		{
			"operation error",
			&genai.GenerateVideosOperation{
				Done:  true,
				Error: map[string]any{"code": 3, "message": "invalid input"},
			},
			StatusFailed, "", "invalid input",
		},
		{
			"no response",
			&genai.GenerateVideosOperation{Done: true},
			StatusFailed, "", "without a response",
		},
		{
			"safety filtered",
			&genai.GenerateVideosOperation{
				Done: true,
				Response: &genai.GenerateVideosResponse{
					RAIMediaFilteredCount:   1,
					RAIMediaFilteredReasons: []string{"person generation"},
				},
			},
			StatusFailed, "", "person generation",
		},
		{
			"empty video list",
			&genai.GenerateVideosOperation{
				Done:     true,
				Response: &genai.GenerateVideosResponse{},
			},
			StatusFailed, "", "no videos",
		},
		{
			"video without URI",
			&genai.GenerateVideosOperation{
				Done: true,
				Response: &genai.GenerateVideosResponse{
					GeneratedVideos: []*genai.GeneratedVideo{{}},
				},
			},
			StatusFailed, "", "no downloadable URI",
		},
	}

	for _, tc := range cases {
		result := mapVeoOperation(tc.operation)
		if result.Status != tc.expected {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.expected, result.Status)
		}
		if result.VideoURL != tc.videoURL {
			t.Errorf("%s: expected video URL %q, got %q", tc.name, tc.videoURL, result.VideoURL)
		}
		if tc.errSubstr != "" && !strings.Contains(result.Err, tc.errSubstr) {
			t.Errorf("%s: expected error containing %q, got %q", tc.name, tc.errSubstr, result.Err)
		}
	}
}
