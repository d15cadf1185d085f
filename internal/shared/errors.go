package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrSessionNotFound    = fmt.Errorf("session not found")
	ErrResultsUnavailable = fmt.Errorf("workflow results unavailable")

	// Transport errors
	ErrConnection    = fmt.Errorf("connection error")
	ErrPollingFailed = fmt.Errorf("polling failed")
	ErrNoTransport   = fmt.Errorf("no supported transport")

	// Workflow errors
	ErrWorkflowFailed    = fmt.Errorf("workflow failed")
	ErrWorkflowCancelled = fmt.Errorf("workflow cancelled")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
