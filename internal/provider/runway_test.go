package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRunwaySubmit(t *testing.T) {
	var gotReq runwayTaskRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/image_to_video" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer rw_123" {
			t.Error("missing bearer token")
		}
		if r.Header.Get("X-Runway-Version") == "" {
			t.Error("missing API version header")
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(runwayTaskResponse{ID: "task_abc"})
	}))
	defer server.Close()

	r := NewRunway("rw_123", server.URL, "")
	jobID, err := r.Submit(context.Background(), "https://cdn.example.com/cat.jpg", "slow zoom")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if jobID != "task_abc" {
		t.Errorf("expected task_abc, got %s", jobID)
	}
	if gotReq.PromptImage != "https://cdn.example.com/cat.jpg" || gotReq.PromptText != "slow zoom" {
		t.Errorf("unexpected request body: %+v", gotReq)
	}
	if gotReq.Model != runwayDefaultModel {
		t.Errorf("expected default model, got %s", gotReq.Model)
	}
}

func TestRunwaySubmitRejectionIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid prompt image"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	r := NewRunway("rw_123", server.URL, "")
	if _, err := r.Submit(context.Background(), "not-a-url", "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRunwayPollStatuses(t *testing.T) {
	cases := []struct {
		name     string
		task     runwayTask
		expected Status
		videoURL string
	}{
		{"succeeded", runwayTask{Status: "SUCCEEDED", Output: []string{"https://cdn.runway/out.mp4"}}, StatusCompleted, "https://cdn.runway/out.mp4"},
		{"succeeded without output", runwayTask{Status: "SUCCEEDED"}, StatusFailed, ""},
		{"failed", runwayTask{Status: "FAILED", Failure: "content policy"}, StatusFailed, ""},
		{"running", runwayTask{Status: "RUNNING"}, StatusProcessing, ""},
		{"pending", runwayTask{Status: "PENDING"}, StatusPending, ""},
		{"throttled", runwayTask{Status: "THROTTLED"}, StatusPending, ""},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(tc.task)
		}))

		r := NewRunway("rw_123", server.URL, "")
		result, err := r.Poll(context.Background(), "task_abc")
		server.Close()

		if err != nil {
			t.Fatalf("%s: poll failed: %v", tc.name, err)
		}
		if result.Status != tc.expected {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.expected, result.Status)
		}
		if result.VideoURL != tc.videoURL {
			t.Errorf("%s: expected video URL %q, got %q", tc.name, tc.videoURL, result.VideoURL)
		}
	}
}

func TestRunwayPollServerErrorIsTransient(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		r := NewRunway("rw_123", server.URL, "")
		_, err := r.Poll(context.Background(), "task_abc")
		server.Close()

		if !errors.Is(err, ErrTransient) {
			t.Errorf("status %d: expected ErrTransient, got %v", status, err)
		}
	}
}

func TestRunwayPollFailureMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(runwayTask{Status: "FAILED"})
	}))
	defer server.Close()

	r := NewRunway("rw_123", server.URL, "")
	result, err := r.Poll(context.Background(), "task_abc")
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if result.Err == "" {
		t.Error("expected a fallback failure message")
	}
}
