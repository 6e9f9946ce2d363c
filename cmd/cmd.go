// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// jobFlags describe a render's assets. The dashboard takes them optionally.
func jobFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "audio",
			Aliases:  []string{"a"},
			Usage:    "Audio file; repeat to concatenate parts in order",
			Required: required,
		},
		&cli.StringFlag{
			Name:     "image",
			Aliases:  []string{"i"},
			Usage:    "Still image for the video",
			Required: required,
		},
		&cli.StringFlag{
			Name:  "overlay",
			Usage: "Image or video placed over the still",
		},
		&cli.StringFlag{
			Name:  "overlay-type",
			Usage: "Overlay media type (image or video)",
			Value: "image",
		},
		&cli.StringFlag{
			Name:  "overlay-rect",
			Usage: "Overlay placement as x,y,w,h fractions of the canvas",
			Value: "0.35,0.35,0.3,0.3",
		},
		&cli.StringFlag{
			Name:  "plan",
			Usage: "Subscription plan (free renders the watermark)",
			Value: "free",
		},
	}
}

// publishFlags add the destination and post metadata to [jobFlags].
func publishFlags(required bool) []cli.Flag {
	return append(jobFlags(required),
		&cli.StringFlag{
			Name:     "channel",
			Usage:    "Destination channel id",
			Required: required,
		},
		&cli.StringFlag{
			Name:  "title",
			Usage: "Post title",
		},
		&cli.StringFlag{
			Name:  "description",
			Usage: "Post description",
		},
		&cli.StringSliceFlag{
			Name:  "tag",
			Usage: "Tag; repeat for several",
		},
		&cli.StringFlag{
			Name:  "visibility",
			Usage: "public, unlisted or private",
			Value: "public",
		},
		&cli.StringFlag{
			Name:  "publish-at",
			Usage: "Schedule the post (RFC 3339)",
		},
	)
}

// serveCommand runs the HTTP service with its background workers.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, job worker, idle reaper and session janitor",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (overrides server.host)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Listen port (overrides server.port)",
			},
		},
		Action: r.Serve,
	}
}

// setupCommand handles setup operations for the database and configuration.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write a config.toml from the built-in template",
				Action: r.SetupConfig,
			},
		},
	}
}

// poolCommand handles credential pool operations.
func poolCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "pool",
		Usage: "Inspect and manage the credential pool",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show every slot's connection, activity and monthly usage",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format (txt, csv, md, json)",
						Value:   "txt",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the report to a file instead of stdout",
					},
				},
				Action: r.PoolStatus,
			},
			{
				Name:  "connect",
				Usage: "Connect a platform account to a free slot",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "platform"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "Address for the temporary callback server",
						Value: "127.0.0.1:8765",
					},
					&cli.BoolFlag{
						Name:  "open",
						Usage: "Open the authorization page in the browser",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the authorization to finish",
						Value: 5 * time.Minute,
					},
				},
				Action: r.PoolConnect,
			},
			{
				Name:   "sync",
				Usage:  "Rescan every credential's accounts and resolve ownership conflicts",
				Action: r.PoolSync,
			},
			{
				Name:   "reap",
				Usage:  "Disconnect platforms whose channels have all gone idle",
				Action: r.PoolReap,
			},
			{
				Name:  "disconnect",
				Usage: "Free one slot",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "credential"},
					&cli.StringArg{Name: "platform"},
				},
				Action: r.PoolDisconnect,
			},
		},
	}
}

// assembleCommand renders a video locally without publishing it.
func assembleCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "assemble",
		Usage: "Render audio and a still image to an mp4",
		Flags: append(jobFlags(true),
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output video path",
				Value:   "output.mp4",
			},
		),
		Action: r.Assemble,
	}
}

// jobCommand renders and publishes through the job queue.
func jobCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "job",
		Usage: "Publish jobs",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Render and publish one video, waiting for it to finish",
				Flags:  publishFlags(true),
				Action: r.JobRun,
			},
		},
	}
}

// automationCommand publishes through a user's round-robin cycle.
func automationCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "automation",
		Usage: "Round-robin publishing",
		Commands: []*cli.Command{
			{
				Name:  "next",
				Usage: "Publish the next video in a user's cycle",
				Flags: append(publishFlags(true),
					&cli.StringFlag{
						Name:     "user",
						Aliases:  []string{"u"},
						Usage:    "User whose cycle advances",
						Required: true,
					},
				),
				Action: r.AutomationNext,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command for the pool dashboard.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive pool dashboard, optionally publishing one video while it runs",
		Flags: append(publishFlags(false),
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address for the connect callback server",
				Value: "127.0.0.1:8765",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where logs go while the dashboard owns the terminal",
				Value: "./tmp/vidpub-tui.log",
			},
		),
		Action: r.TUI,
	}
}
