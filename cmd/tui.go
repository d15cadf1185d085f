package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/tasks"
	"github.com/dennisjooo/moodlist-sub000/internal/ui"
	"github.com/urfave/cli/v3"
)

const tuiLogPath = "./tmp/moodlist-tui.log"

// TUI launches the interactive session browser.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	if r.sessions == nil {
		return fmt.Errorf("%w: session cache not initialized", shared.ErrServiceUnavailable)
	}
	_, err := r.runTUI(ctx, "", "")
	return err
}

// runTUI redirects logs to a file, wires the engine and runs the UI until the user quits.
// A non-empty sessionID is watched immediately.
func (r *Runner) runTUI(ctx context.Context, sessionID, preferred string) (*tasks.WatchResult, error) {
	if err := r.redirectLogs(); err != nil {
		return nil, err
	}

	engine, err := r.workflowEngine(preferred)
	if err != nil {
		return nil, err
	}

	var lister ui.SessionLister
	if r.sessions != nil {
		lister = r.sessions
	}

	model := ui.NewModel(ctx, engine, lister, sessionID)
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return nil, fmt.Errorf("error running TUI: %w", err)
	}

	return model.Result()
}

// redirectLogs sends logs to a file so they don't interfere with TUI rendering.
func (r *Runner) redirectLogs() error {
	if r.fileLogging {
		return nil
	}
	fileLogger, err := shared.NewFileLogger(tuiLogPath)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)
	r.fileLogging = true
	return nil
}
