package models

import (
	"encoding/json"
	"testing"
)

func TestClipStatusIsTerminal(t *testing.T) {
	cases := []struct {
		status   ClipStatus
		terminal bool
	}{
		{ClipStatusPending, false},
		{ClipStatusProcessing, false},
		{ClipStatusCompleted, true},
		{ClipStatusFailed, true},
	}

	for _, tc := range cases {
		if got := tc.status.IsTerminal(); got != tc.terminal {
			t.Errorf("%s: expected terminal=%v, got %v", tc.status, tc.terminal, got)
		}
	}
}

func TestFinalVideoStatusIsTerminal(t *testing.T) {
	cases := []struct {
		status   FinalVideoStatus
		terminal bool
	}{
		{FinalVideoStatusDraft, false},
		{FinalVideoStatusProcessing, false},
		{FinalVideoStatusCompleted, true},
		{FinalVideoStatusFailed, true},
	}

	for _, tc := range cases {
		if got := tc.status.IsTerminal(); got != tc.terminal {
			t.Errorf("%s: expected terminal=%v, got %v", tc.status, tc.terminal, got)
		}
	}
}

func TestClipStatusResponseOmitsEmptyFields(t *testing.T) {
	resp := ClipStatusResponse{Status: ClipStatusPending}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if _, ok := decoded["video_url"]; ok {
		t.Error("video_url should be omitted when nil")
	}
	if _, ok := decoded["error_message"]; ok {
		t.Error("error_message should be omitted when nil")
	}
	if _, ok := decoded["progress"]; !ok {
		t.Error("progress must always be present, even at 0")
	}
}
