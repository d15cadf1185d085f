package status

import (
	"slices"
	"strings"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
)

// Stages is the canonical stage order used to rank status strings.
var Stages = []string{
	models.StatusStarted,
	models.StatusPending,
	models.StatusAnalyzingMood,
	models.StatusGatheringSeeds,
	models.StatusGeneratingRecommendations,
	models.StatusEvaluatingQuality,
	models.StatusOptimizingRecommendations,
	models.StatusCreatingPlaylist,
	models.StatusCompleted,
	models.StatusFailed,
}

var terminal = []string{models.StatusCompleted, models.StatusFailed, models.StatusCancelled}

// StageIndex returns the position in [Stages] of the stage that s names or contains, or -1.
//
// An exact name wins. Otherwise the first stage, in canonical order, contained in s is used.
func StageIndex(s string) int {
	if s == "" {
		return -1
	}
	if i := slices.Index(Stages, s); i >= 0 {
		return i
	}
	for i, stage := range Stages {
		if strings.Contains(s, stage) {
			return i
		}
	}
	return -1
}

// Stage returns the canonical stage name for s, or "" when s is unordered.
func Stage(s string) string {
	if i := StageIndex(s); i >= 0 {
		return Stages[i]
	}
	return ""
}

// IsTerminal reports whether s is completed, failed or cancelled.
func IsTerminal(s string) bool {
	return slices.Contains(terminal, s)
}

// ShouldAccept reports whether next may replace prev as the session's current status.
// An empty prev means nothing has been observed yet.
func ShouldAccept(prev, next string, hasNewError bool) bool {
	if prev == "" {
		return true
	}
	if next == models.StatusCompleted || next == models.StatusFailed {
		return true
	}
	if hasNewError {
		return true
	}

	nextIndex := StageIndex(next)
	if nextIndex < 0 {
		return true
	}
	return nextIndex >= StageIndex(prev)
}
