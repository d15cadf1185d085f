package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dennisjooo/moodlist-sub000/internal/formatter"
	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/server"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/state"
	"github.com/dennisjooo/moodlist-sub000/internal/tasks"
	"github.com/urfave/cli/v3"
)

// WorkflowStart queues a workflow for a mood prompt and optionally follows it.
func (r *Runner) WorkflowStart(ctx context.Context, cmd *cli.Command) error {
	prompt := strings.TrimSpace(cmd.String("mood"))
	if prompt == "" {
		prompt = strings.TrimSpace(cmd.StringArg("prompt"))
	}
	if prompt == "" {
		return fmt.Errorf("%w: mood prompt (pass it as an argument or with --mood)", shared.ErrMissingArgument)
	}

	if cmd.Bool("watch") && cmd.Bool("tui") {
		if err := r.redirectLogs(); err != nil {
			return err
		}
	}

	engine, err := r.workflowEngine(cmd.String("transport"))
	if err != nil {
		return err
	}

	req := models.StartRequest{
		MoodPrompt:    prompt,
		GenreHint:     cmd.String("genre"),
		MaxRecommends: int(cmd.Int("max")),
	}

	r.logger.Info("starting workflow", "prompt", prompt)
	session, err := engine.Start(ctx, req, nil)
	if err != nil {
		return err
	}

	if cmd.Bool("json") && !cmd.Bool("watch") {
		return r.writeJSON(map[string]any{
			"session_id":  session.SessionID(),
			"sequence":    session.Sequence(),
			"status":      session.Status(),
			"mood_prompt": session.MoodPrompt(),
		}, true)
	}

	r.writePlain("✓ Workflow queued\n")
	r.writePlain("Session: %s\n", session.SessionID())
	if session.Sequence() > 0 {
		r.writePlain("Local #: %d\n", session.Sequence())
	}

	if !cmd.Bool("watch") {
		r.writePlainln("Follow it with 'moodlist workflow watch %s'", session.SessionID())
		return nil
	}

	r.writePlain("\n")
	return r.watch(ctx, cmd, session.SessionID())
}

// WorkflowWatch follows an existing session until it finishes.
func (r *Runner) WorkflowWatch(ctx context.Context, cmd *cli.Command) error {
	sessionID, err := sessionArg(cmd)
	if err != nil {
		return err
	}
	return r.watch(ctx, cmd, sessionID)
}

// watch streams progress for sessionID to the output, or hands the terminal to the UI with --tui.
func (r *Runner) watch(ctx context.Context, cmd *cli.Command, sessionID string) error {
	preferred := cmd.String("transport")

	stopMetrics := r.serveMetrics(cmd.String("metrics-addr"))
	defer stopMetrics()

	if cmd.Bool("tui") {
		_, err := r.runTUI(ctx, sessionID, preferred)
		return err
	}

	engine, err := r.workflowEngine(preferred)
	if err != nil {
		return err
	}

	r.logger.Info("watching session", "session_id", sessionID)

	// Create progress channel and goroutine to handle updates
	progressCh := make(chan tasks.ProgressUpdate, 50)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for update := range progressCh {
			r.writeProgress(update)
		}
	}()

	result, err := engine.Watch(ctx, sessionID, progressCh)
	close(progressCh)
	<-printed

	if result != nil {
		r.writeSummary(result)
	}
	return err
}

func (r *Runner) writeProgress(update tasks.ProgressUpdate) {
	switch update.Phase {
	case tasks.Connecting:
		r.writePlain("🔌 %s\n", update.Message)
	case tasks.Reconnecting:
		r.writePlain("🔁 %s\n", update.Message)
	case tasks.Interrupted:
		r.writePlain("   %s\n", update.Message)
	case tasks.Completed, tasks.Failed, tasks.Cancelled:
		r.writePlain("\n%s\n", update.Message)
	default:
		if update.Step > 0 {
			r.writePlain("[%d/%d] %s\n", update.Step, update.Total, update.Message)
		} else {
			r.writePlain("      %s\n", update.Message)
		}
	}
}

func (r *Runner) writeSummary(result *tasks.WatchResult) {
	st := result.State

	r.writePlain("\n")
	r.writePlainHeader("Workflow " + st.Status)
	r.writePlain("Session: %s\n", st.SessionID)
	if result.Transport != "" {
		r.writePlain("Transport: %s\n", result.Transport)
	}
	if st.Playlist != nil {
		r.writePlain("Playlist: %s\n", st.Playlist.Name)
		if st.Playlist.SpotifyURL != "" {
			r.writePlain("URL: %s\n", st.Playlist.SpotifyURL)
		}
	}
	if len(st.Recommendations) > 0 {
		r.writePlain("Tracks: %d\n", len(st.Recommendations))
	}
	if st.TotalTokens > 0 {
		r.writePlain("Tokens: %d ($%.4f)\n", st.TotalTokens, st.TotalLLMCostUSD)
	}
	if st.Error != "" {
		r.writePlain("Error: %s\n", st.Error)
	}
}

// WorkflowStatus fetches the backend status of a session.
func (r *Runner) WorkflowStatus(ctx context.Context, cmd *cli.Command) error {
	sessionID, err := sessionArg(cmd)
	if err != nil {
		return err
	}

	api, err := r.workflowAPI()
	if err != nil {
		return err
	}

	st, err := api.Status(ctx, sessionID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(st, true)
	}

	store := state.New()
	store.ApplyStatus(*st)
	return r.writePlain("%s", formatter.StatusToText(store.Snapshot()))
}

// WorkflowResults fetches the results of a finished session and prints or saves them.
func (r *Runner) WorkflowResults(ctx context.Context, cmd *cli.Command) error {
	sessionID, err := sessionArg(cmd)
	if err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	api, err := r.workflowAPI()
	if err != nil {
		return err
	}

	res, err := api.Results(ctx, sessionID)
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" || cmd.Bool("save") {
		written, err := formatter.WriteExport(res, format, path)
		if err != nil {
			return err
		}
		r.logger.Info("results exported", "session_id", sessionID, "path", written)
		return r.writePlain("✓ Results written to %s\n", written)
	}

	data, err := formatter.Export(res, format)
	if err != nil {
		return err
	}
	_, err = r.output.Write(data)
	return err
}

// WorkflowCancel cancels a running session and records it locally.
func (r *Runner) WorkflowCancel(ctx context.Context, cmd *cli.Command) error {
	sessionID, err := sessionArg(cmd)
	if err != nil {
		return err
	}

	engine, err := r.workflowEngine("")
	if err != nil {
		return err
	}

	if err := engine.Cancel(ctx, sessionID); err != nil {
		return err
	}

	r.logger.Info("workflow cancelled", "session_id", sessionID)
	return r.writePlain("✓ Cancelled session %s\n", sessionID)
}

// SessionsList prints sessions recorded in the local cache.
func (r *Runner) SessionsList(ctx context.Context, cmd *cli.Command) error {
	if r.sessions == nil {
		return fmt.Errorf("%w: session cache not initialized (run 'moodlist setup database')", shared.ErrServiceUnavailable)
	}

	criteria := map[string]any{"limit": int(cmd.Int("limit"))}
	if cmd.Bool("active") {
		criteria["active"] = true
	}
	if s := cmd.String("status"); s != "" {
		criteria["status"] = s
	}

	sessions, err := r.sessions.List(criteria)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		rows := make([]map[string]any, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, map[string]any{
				"sequence":     s.Sequence(),
				"session_id":   s.SessionID(),
				"mood_prompt":  s.MoodPrompt(),
				"status":       s.Status(),
				"playlist_url": s.PlaylistURL(),
				"error":        s.ErrorMessage(),
				"created_at":   s.CreatedAt(),
			})
		}
		return r.writeJSON(rows, true)
	}

	if len(sessions) == 0 {
		return r.writePlain("No sessions recorded\n")
	}

	r.writePlainHeader(fmt.Sprintf("Sessions (%d)", len(sessions)))
	for _, s := range sessions {
		r.writePlain("#%-4d %-28s %s\n", s.Sequence(), s.Status(), s.SessionID())
		r.writePlain("      %s\n", s.MoodPrompt())
		if s.PlaylistURL() != "" {
			r.writePlain("      %s\n", s.PlaylistURL())
		}
		if s.ErrorMessage() != "" {
			r.writePlain("      error: %s\n", s.ErrorMessage())
		}
	}
	return nil
}

// DevServe runs the simulated backend until ctx is cancelled.
func (r *Runner) DevServe(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Server
	if h := cmd.String("host"); h != "" {
		cfg.Host = h
	}
	if p := cmd.Int("port"); p > 0 {
		cfg.Port = int(p)
	}
	if d := cmd.Duration("step-delay"); d > 0 {
		cfg.StepDelay = d
	}

	sim := server.NewSimulator(server.SimulatorOptions{StepDelay: cfg.StepDelay, Logger: r.logger})
	defer sim.Close()

	router := server.New(sim, server.Options{
		Prefix: server.DefaultPrefix,
		Token:  r.config.API.Token,
		Logger: r.logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	r.logger.Info("simulated backend listening", "addr", srv.Addr, "prefix", server.DefaultPrefix, "step_delay", cfg.StepDelay)
	r.logger.Debug("routes", "patterns", router.Routes())
	r.writePlain("Serving http://%s%s (Ctrl+C to stop)\n", srv.Addr, server.DefaultPrefix)
	r.writePlain("Prompts containing %q fail during recommendation generation\n", server.FailureKeyword)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// serveMetrics exposes the Prometheus registry on addr, falling back to metrics.addr.
// The returned func shuts the listener down.
func (r *Runner) serveMetrics(addr string) (stop func()) {
	if addr == "" {
		addr = r.config.Metrics.Addr
	}
	if addr == "" {
		return func() {}
	}

	router := server.NewBasicRouter()
	router.Handle(http.MethodGet, "/metrics", r.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Warn("metrics endpoint stopped", "addr", addr, "error", err)
		}
	}()
	r.logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func sessionArg(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.StringArg("session-id"))
	if id == "" {
		return "", fmt.Errorf("%w: session id", shared.ErrMissingArgument)
	}
	return id, nil
}
