package server

import (
	"errors"
	"testing"
	"time"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
)

const waitFor = 3 * time.Second

func newTestSimulator(t *testing.T, delay time.Duration, script ...Step) *Simulator {
	t.Helper()
	sim := NewSimulator(SimulatorOptions{StepDelay: delay, Script: script})
	t.Cleanup(sim.Close)
	return sim
}

func waitTerminal(t *testing.T, sim *Simulator, id string) models.WorkflowStatus {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		st, changed, err := sim.Watch(id)
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
		if status.IsTerminal(st.Status) {
			return st
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("timed out waiting for a terminal status, last %q", st.Status)
		}
	}
}

func TestSimulator(t *testing.T) {
	t.Run("Runs Script To Completion", func(t *testing.T) {
		sim := newTestSimulator(t, time.Millisecond)
		resp := sim.Start("rainy sunday")
		if resp.SessionID == "" || resp.Status != models.StatusPending {
			t.Fatalf("unexpected start response %+v", resp)
		}

		st := waitTerminal(t, sim, resp.SessionID)
		if st.Status != models.StatusCompleted {
			t.Fatalf("expected completed, got %q", st.Status)
		}
		if st.MoodAnalysis == nil || len(st.AnchorTracks) == 0 || st.TotalTokens == 0 {
			t.Errorf("expected mood analysis, anchors and token usage, got %+v", st)
		}
		if _, ok := st.Metadata["iteration"]; !ok {
			t.Errorf("expected optimization metadata, got %v", st.Metadata)
		}

		res, err := sim.Results(resp.SessionID)
		if err != nil {
			t.Fatalf("Results() error = %v", err)
		}
		if res.Playlist == nil || res.Playlist.Name != "rainy sunday" || len(res.Recommendations) == 0 {
			t.Errorf("unexpected results %+v", res)
		}
	})

	t.Run("Statuses Keep Stage Order", func(t *testing.T) {
		sim := newTestSimulator(t, time.Hour)
		resp := sim.Start("focus")

		prev := 0
		for range len(DefaultScript()) - 1 {
			if done := sim.advance(resp.SessionID); done {
				break
			}
			st, _ := sim.Status(resp.SessionID)
			idx := status.StageIndex(st.Status)
			// evaluating_quality repeats after an optimization pass
			if idx < prev && status.Stage(st.Status) != models.StatusEvaluatingQuality {
				t.Errorf("status %q went backwards", st.Status)
			}
			prev = idx
		}
	})

	t.Run("Failure Keyword", func(t *testing.T) {
		sim := newTestSimulator(t, time.Millisecond)
		resp := sim.Start("angry " + FailureKeyword)

		st := waitTerminal(t, sim, resp.SessionID)
		if st.Status != models.StatusFailed || st.Error == "" {
			t.Fatalf("expected failed with error, got %q / %q", st.Status, st.Error)
		}
		if _, err := sim.Results(resp.SessionID); !errors.Is(err, shared.ErrResultsUnavailable) {
			t.Errorf("expected ErrResultsUnavailable, got %v", err)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		sim := newTestSimulator(t, time.Hour)
		resp := sim.Start("sleepy")
		_, changed, _ := sim.Watch(resp.SessionID)

		if err := sim.Cancel(resp.SessionID); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		select {
		case <-changed:
		default:
			t.Errorf("expected watchers to be notified")
		}
		if st, _ := sim.Status(resp.SessionID); st.Status != models.StatusCancelled {
			t.Errorf("expected cancelled, got %q", st.Status)
		}
		if err := sim.Cancel(resp.SessionID); !errors.Is(err, ErrAlreadyFinished) {
			t.Errorf("expected ErrAlreadyFinished, got %v", err)
		}
	})

	t.Run("Unknown Session", func(t *testing.T) {
		sim := newTestSimulator(t, time.Hour)
		if _, err := sim.Status("nope"); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("Status() expected ErrSessionNotFound, got %v", err)
		}
		if _, err := sim.Results("nope"); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("Results() expected ErrSessionNotFound, got %v", err)
		}
		if err := sim.Cancel("nope"); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("Cancel() expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("Custom Script", func(t *testing.T) {
		sim := newTestSimulator(t, time.Millisecond,
			Step{Status: models.StatusPending},
			Step{Status: models.StatusGatheringSeeds, AwaitingInput: true},
			Step{Status: models.StatusCompleted},
		)
		resp := sim.Start("quick")
		if st := waitTerminal(t, sim, resp.SessionID); st.Status != models.StatusCompleted || st.AwaitingInput {
			t.Errorf("unexpected final status %+v", st)
		}
	})

	t.Run("Watch Returns Copies", func(t *testing.T) {
		sim := newTestSimulator(t, time.Hour, Step{Status: models.StatusPending, Metadata: map[string]any{"k": 1}})
		resp := sim.Start("x")

		st, _ := sim.Status(resp.SessionID)
		st.Metadata["k"] = 2
		if again, _ := sim.Status(resp.SessionID); again.Metadata["k"] != 1 {
			t.Errorf("expected stored metadata untouched, got %v", again.Metadata["k"])
		}
	})
}
