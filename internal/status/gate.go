package status

import (
	"sync"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
)

// Gate filters a stream of status snapshots for one subscription.
//
// Ordering is checked against the last accepted status that maps to a canonical stage, so an
// unordered sub-step never lowers the bar for the next update. Gate is safe for concurrent use.
type Gate struct {
	mu        sync.Mutex
	last      models.WorkflowStatus
	ordered   string
	lastError string
}

// NewGate returns a Gate seeded with a previously known status ("" for none).
func NewGate(known string) *Gate {
	g := &Gate{}
	if known != "" {
		g.last.Status = known
		if StageIndex(known) >= 0 {
			g.ordered = known
		}
	}
	return g
}

// HasNewError reports whether next carries an error different from the last one seen.
func (g *Gate) HasNewError(next models.WorkflowStatus) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasNewError(next)
}

func (g *Gate) hasNewError(next models.WorkflowStatus) bool {
	return next.Error != "" && next.Error != g.lastError
}

// Filter applies [ShouldAccept] to next.
//
// Accepted snapshots are returned unchanged. A rejected snapshot is returned with its status,
// current step and awaiting flag replaced by the last accepted values, so callers can still merge
// its volatile fields.
func (g *Gate) Filter(next models.WorkflowStatus) (models.WorkflowStatus, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	newError := g.hasNewError(next)
	if next.Error != "" {
		g.lastError = next.Error
	}

	if !ShouldAccept(g.ordered, next.Status, newError) {
		out := next
		out.Status = g.last.Status
		out.CurrentStep = g.last.CurrentStep
		out.AwaitingInput = g.last.AwaitingInput
		return out, false
	}

	g.last = next
	if StageIndex(next.Status) >= 0 {
		g.ordered = next.Status
	}
	return next, true
}

// Last returns the most recently accepted status string.
func (g *Gate) Last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last.Status
}
