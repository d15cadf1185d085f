// package services defines the workflow API surface and its HTTP client
package services

import (
	"context"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
)

// WorkflowAPI defines the playlist workflow backend operations used by the CLI and the coordinator.
type WorkflowAPI interface {
	// Start queues a new workflow for a mood prompt.
	Start(ctx context.Context, req models.StartRequest) (*models.StartResponse, error)

	// Status returns the current status snapshot of a session.
	Status(ctx context.Context, sessionID string) (*models.WorkflowStatus, error)

	// Results returns the final output of a session. Only meaningful once the session is terminal.
	Results(ctx context.Context, sessionID string) (*models.WorkflowResults, error)

	// Cancel stops a running session.
	Cancel(ctx context.Context, sessionID string) error
}
