package tasks

import (
	"fmt"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
	"github.com/dennisjooo/moodlist-sub000/internal/transport"
)

// ProgressUpdate represents a progress event while a workflow runs.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Workflow phase
	Step    int    // Position of the phase in the workflow
	Total   int    // Number of phases before the workflow finishes
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Workflow phase enumeration
type Phase int

const (
	Connecting Phase = iota
	Queued
	AnalyzingMood
	GatheringSeeds
	GeneratingRecommendations
	EvaluatingQuality
	OptimizingRecommendations
	CreatingPlaylist
	Completed
	Failed
	Cancelled
	Reconnecting
	Interrupted
	Working
)

// totalPhases counts the phases from Queued through CreatingPlaylist plus the final one.
const totalPhases = int(Completed)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Queued:
		return "queued"
	case AnalyzingMood:
		return "analyzing_mood"
	case GatheringSeeds:
		return "gathering_seeds"
	case GeneratingRecommendations:
		return "generating_recommendations"
	case EvaluatingQuality:
		return "evaluating_quality"
	case OptimizingRecommendations:
		return "optimizing_recommendations"
	case CreatingPlaylist:
		return "creating_playlist"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case Reconnecting:
		return "reconnecting"
	case Interrupted:
		return "interrupted"
	case Working:
		return "working"
	default:
		return ""
	}
}

// Terminal reports whether p ends the workflow.
func (p Phase) Terminal() bool {
	return p == Completed || p == Failed || p == Cancelled
}

// PhaseOf maps a backend status, including sub-steps, to its phase.
func PhaseOf(s string) Phase {
	switch s {
	case models.StatusCancelled:
		return Cancelled
	case models.StatusFailed:
		return Failed
	case models.StatusCompleted:
		return Completed
	}

	switch status.Stage(s) {
	case models.StatusStarted, models.StatusPending:
		return Queued
	case models.StatusAnalyzingMood:
		return AnalyzingMood
	case models.StatusGatheringSeeds:
		return GatheringSeeds
	case models.StatusGeneratingRecommendations:
		return GeneratingRecommendations
	case models.StatusEvaluatingQuality:
		return EvaluatingQuality
	case models.StatusOptimizingRecommendations:
		return OptimizingRecommendations
	case models.StatusCreatingPlaylist:
		return CreatingPlaylist
	case models.StatusCompleted:
		return Completed
	case models.StatusFailed:
		return Failed
	default:
		return Working
	}
}

// step returns the 1-based position of p, or 0 for phases outside the stage sequence.
func (p Phase) step() int {
	switch {
	case p >= Queued && p <= Completed:
		return int(p)
	case p == Failed || p == Cancelled:
		return totalPhases
	default:
		return 0
	}
}

func connectingUpdate(sessionID string, kind transport.Kind) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Connecting,
		Total:   totalPhases,
		Message: fmt.Sprintf("Following session %s over %s...", sessionID, kind),
	}
}

func startedUpdate(resp *models.StartResponse) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Queued,
		Step:    Queued.step(),
		Total:   totalPhases,
		Message: fmt.Sprintf("Workflow queued (session %s)", resp.SessionID),
		Data:    resp,
	}
}

func statusUpdate(st models.WorkflowStatus) ProgressUpdate {
	phase := PhaseOf(st.Status)
	msg := st.CurrentStep
	if msg == "" {
		msg = st.Status
	}
	if st.AwaitingInput {
		msg += " (awaiting input)"
	}
	return ProgressUpdate{
		Phase:   phase,
		Step:    phase.step(),
		Total:   totalPhases,
		Message: msg,
		Data:    st,
	}
}

func reconnectUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   Reconnecting,
		Total:   totalPhases,
		Message: "Connection restored, reconciling status...",
	}
}

func errorUpdate(err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Interrupted,
		Total:   totalPhases,
		Message: fmt.Sprintf("✗ %v", err),
	}
}

func terminalUpdate(st models.WorkflowStatus, results *models.WorkflowResults) ProgressUpdate {
	phase := PhaseOf(st.Status)
	var msg string
	switch {
	case phase == Completed && results != nil && results.Playlist != nil:
		msg = fmt.Sprintf("✓ Playlist created: %s (%d tracks)", results.Playlist.Name, len(results.Recommendations))
	case phase == Completed && results != nil:
		msg = fmt.Sprintf("✓ Workflow completed with %d recommendations", len(results.Recommendations))
	case phase == Completed:
		msg = "✓ Workflow completed, results unavailable"
	case st.Error != "":
		msg = fmt.Sprintf("✗ Workflow %s: %s", st.Status, st.Error)
	default:
		msg = fmt.Sprintf("✗ Workflow %s", st.Status)
	}
	return ProgressUpdate{
		Phase:   phase,
		Step:    phase.step(),
		Total:   totalPhases,
		Message: msg,
		Data:    results,
	}
}
