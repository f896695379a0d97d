package jobs

import (
	"time"

	"github.com/sagiegrun/echoes/internal/models"
)

// Generation time is not reported by the vendors, so progress is a
// monotonic estimate from elapsed time since submission. It caps at 90
// until a terminal status is observed, then snaps to 100 (completed) or
// 0 (failed).
const (
	expectedGenerationTime = 60 * time.Second
	progressCap            = 90
)

// Progress returns the display percentage (0-100) and the estimated
// seconds remaining for a clip.
func Progress(clip *models.Clip, now time.Time) (int, int) {
	switch clip.Status {
	case models.ClipStatusCompleted:
		return 100, 0
	case models.ClipStatusFailed:
		return 0, 0
	}

	if clip.SubmittedAt == nil {
		return 0, int(expectedGenerationTime / time.Second)
	}

	elapsed := now.Sub(*clip.SubmittedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	percent := int(elapsed * progressCap / expectedGenerationTime)
	if percent > progressCap {
		percent = progressCap
	}

	remaining := int((expectedGenerationTime - elapsed) / time.Second)
	if remaining < 5 {
		// Past the estimate but not terminal yet — keep a floor so the
		// UI never shows zero seconds on a live job.
		remaining = 5
	}

	return percent, remaining
}
