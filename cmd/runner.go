package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dennisjooo/moodlist-sub000/internal/metrics"
	"github.com/dennisjooo/moodlist-sub000/internal/polling"
	"github.com/dennisjooo/moodlist-sub000/internal/repositories"
	"github.com/dennisjooo/moodlist-sub000/internal/services"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/state"
	"github.com/dennisjooo/moodlist-sub000/internal/tasks"
	"github.com/dennisjooo/moodlist-sub000/internal/transport"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config    *shared.Config
	client    *services.WorkflowClient
	api       services.WorkflowAPI
	sessions  *repositories.SessionRepository
	metrics   *metrics.Metrics
	transport http.RoundTripper
	logger    *log.Logger
	output    io.Writer
	engine    tasks.WorkflowEngine

	fileLogging bool
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config   *shared.Config
	Sessions *repositories.SessionRepository
	Metrics  *metrics.Metrics
	// Transport is the base round tripper for backend requests. Defaults to [http.DefaultTransport].
	Transport http.RoundTripper
	// API and Engine replace the backend client and workflow engine built from Config.
	API    services.WorkflowAPI
	Engine tasks.WorkflowEngine
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	return &Runner{
		config:    opts.Config,
		api:       opts.API,
		sessions:  opts.Sessions,
		metrics:   opts.Metrics,
		transport: opts.Transport,
		logger:    opts.Logger,
		output:    opts.Output,
		engine:    opts.Engine,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, workflowCommand, sessionsCommand, devCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger used by the runner and everything it builds afterwards.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// workflowClient returns the backend client, creating it from the API config on first use.
func (r *Runner) workflowClient() (*services.WorkflowClient, error) {
	if r.client != nil {
		return r.client, nil
	}
	client, err := services.NewWorkflowClient(r.config.API, r.transport, r.logger)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

// workflowAPI returns the injected API or the backend client.
func (r *Runner) workflowAPI() (services.WorkflowAPI, error) {
	if r.api != nil {
		return r.api, nil
	}
	return r.workflowClient()
}

// workflowEngine returns the injected engine or wires one from the config.
//
// preferred overrides transport.preferred when non-empty.
func (r *Runner) workflowEngine(preferred string) (tasks.WorkflowEngine, error) {
	if r.engine != nil {
		return r.engine, nil
	}

	client, err := r.workflowClient()
	if err != nil {
		return nil, err
	}

	cfg := r.config.Transport
	if preferred != "" {
		if _, ok := transport.ParseKind(preferred); !ok {
			return nil, fmt.Errorf("%w: unknown transport %q (auto, websocket, sse or polling)", shared.ErrInvalidFlag, preferred)
		}
		cfg.Preferred = preferred
	}

	selector, err := transport.NewSelector(cfg,
		transport.NewWebSocketOpener(client.WebSocketURL, client.AuthHeader, cfg.WebSocket),
		transport.NewSSEOpener(client.StreamClient(), client.StreamURL, cfg.SSE),
		transport.NewPollingOpener(client, polling.ConfigFromShared(r.config.Polling), r.logger, r.metrics),
	)
	if err != nil {
		return nil, err
	}

	coord, err := tasks.NewCoordinator(selector, client, tasks.CoordinatorOptions{
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		Logger:            r.logger,
		Metrics:           r.metrics,
	})
	if err != nil {
		return nil, err
	}

	var api services.WorkflowAPI = client
	if r.api != nil {
		api = r.api
	}

	var store tasks.SessionStore
	if r.sessions != nil {
		store = r.sessions
	}

	r.engine = tasks.NewEngine(api, coord, state.New(), store, r.logger)
	return r.engine, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
