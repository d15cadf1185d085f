// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create the configuration file and session cache",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Initialize the session cache and run migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the latest migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write the default configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// watchFlags are shared by commands that follow a session.
func watchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "transport",
			Aliases: []string{"t"},
			Usage:   "Status transport: auto, websocket, sse or polling",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address while watching",
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Follow progress in the interactive UI",
		},
	}
}

// workflowCommand handles workflow operations against the backend
func workflowCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "workflow",
		Aliases: []string{"wf"},
		Usage:   "Start, follow and manage playlist workflows",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start a workflow for a mood prompt",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "prompt"},
				},
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "mood",
						Aliases: []string{"m"},
						Usage:   "Mood prompt (alternative to the positional argument)",
					},
					&cli.StringFlag{
						Name:  "genre",
						Usage: "Optional genre hint",
					},
					&cli.IntFlag{
						Name:  "max",
						Usage: "Maximum number of recommendations",
					},
					&cli.BoolFlag{
						Name:    "watch",
						Aliases: []string{"w"},
						Usage:   "Follow the workflow until it finishes",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output the created session as JSON",
					},
				}, watchFlags()...),
				Action: r.WorkflowStart,
			},
			{
				Name:  "watch",
				Usage: "Follow a session until it finishes",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "session-id"},
				},
				Flags:  watchFlags(),
				Action: r.WorkflowWatch,
			},
			{
				Name:  "status",
				Usage: "Fetch the current status of a session",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "session-id"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.WorkflowStatus,
			},
			{
				Name:  "results",
				Usage: "Fetch and export the results of a finished session",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "session-id"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, markdown, csv or json",
						Value:   "text",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write to a file instead of stdout",
					},
					&cli.BoolFlag{
						Name:  "save",
						Usage: "Write to {session_id}_results.{ext}",
					},
				},
				Action: r.WorkflowResults,
			},
			{
				Name:  "cancel",
				Usage: "Cancel a running session",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "session-id"},
				},
				Action: r.WorkflowCancel,
			},
		},
	}
}

// sessionsCommand lists sessions recorded in the local cache
func sessionsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect sessions started from this machine",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List recorded sessions, newest first",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "active",
						Usage: "Only sessions that have not finished",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only sessions with this status",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of sessions to return",
						Value: 20,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.SessionsList,
			},
			{
				Name:   "browse",
				Usage:  "Browse sessions in the interactive UI",
				Action: r.TUI,
			},
		},
	}
}

// devCommand holds development helpers
func devCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "dev",
		Usage: "Development helpers",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run a simulated workflow backend",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "host",
						Usage: "Listen host (defaults to server.host)",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "Listen port (defaults to server.port)",
					},
					&cli.DurationFlag{
						Name:  "step-delay",
						Usage: "Time between simulated stages (defaults to server.step_delay)",
					},
				},
				Action: r.DevServe,
			},
		},
	}
}
