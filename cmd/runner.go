package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vidpub/internal/assembler"
	"github.com/desertthunder/vidpub/internal/assets"
	"github.com/desertthunder/vidpub/internal/automation"
	"github.com/desertthunder/vidpub/internal/repositories"
	"github.com/desertthunder/vidpub/internal/services"
	"github.com/desertthunder/vidpub/internal/shared"
	"github.com/desertthunder/vidpub/internal/slots"
	"github.com/desertthunder/vidpub/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config      *shared.Config
	configPath  string
	httpClient  *http.Client
	exec        assembler.Runner
	openBrowser func(string) error
	logger      *log.Logger
	output      io.Writer

	db       *shared.Database
	registry *services.Registry
	channels *repositories.ChannelRepository
	pool     *slots.Pool
	alloc    *slots.Allocator
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	// Exec runs ffmpeg and ffprobe; defaults to [assembler.ExecRunner].
	Exec        assembler.Runner
	OpenBrowser func(string) error
	Logger      *log.Logger
	Output      io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Exec == nil {
		opts.Exec = assembler.ExecRunner{}
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		httpClient:  opts.HTTPClient,
		exec:        opts.Exec,
		openBrowser: opts.OpenBrowser,
		logger:      opts.Logger,
		output:      opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, setupCommand, poolCommand, assembleCommand, jobCommand, automationCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig is the root Before hook: it reads the --config file unless a config was given
// through [RunnerOpts].
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.config != nil {
		return ctx, nil
	}
	return ctx, r.loadConfigFile(cmd.String("config"))
}

// loadConfigFile reads path, falling back to the embedded defaults when it does not exist.
func (r *Runner) loadConfigFile(path string) error {
	if path != "" {
		r.configPath = path
	}

	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		r.config = shared.DefaultConfig()
		r.config.ApplyEnv()
		return nil
	}

	config, err := shared.LoadConfig(r.configPath)
	if err != nil {
		return err
	}
	r.config = config
	return nil
}

// openPool connects the database, the API clients and the credential pool. Later calls reuse them.
func (r *Runner) openPool() error {
	if r.alloc != nil {
		return nil
	}
	if err := r.config.Validate(); err != nil {
		return err
	}
	if len(r.config.Pool.Credentials) == 0 {
		return fmt.Errorf("%w: add at least one [[pool.credentials]] entry to %s", shared.ErrMissingConfig, r.configPath)
	}

	db, err := repositories.Open(r.config.Database)
	if err != nil {
		return err
	}

	var ledger slots.Ledger = repositories.NewDocumentLedger(db)
	if r.config.Pool.Ledger == "json" {
		if ledger, err = repositories.NewJSONLedger(r.config.Pool.LedgerPath); err != nil {
			db.Close()
			return err
		}
	}

	registry, err := services.NewRegistryFromConfig(r.config.Pool, services.PublisherOptions{
		PollInterval: r.config.Pool.MediaPollInterval,
		PollTimeout:  r.config.Pool.MediaPollTimeout,
		Logger:       r.logger,
	}, services.WithHTTPClient(r.httpClient))
	if err != nil {
		db.Close()
		return err
	}

	instances := make([]*slots.Instance, 0, len(r.config.Pool.Credentials))
	for _, c := range r.config.Pool.Credentials {
		client, err := registry.Client(c.ID)
		if err != nil {
			db.Close()
			return err
		}
		instances = append(instances, &slots.Instance{ID: c.ID, API: client})
	}

	r.db = db
	r.registry = registry
	r.channels = repositories.NewChannelRepository(db)
	r.pool = slots.NewPool(instances, ledger, slots.LimitsFromConfig(r.config.Pool), slots.WithLogger(r.logger))
	r.alloc = slots.NewAllocator(r.pool, r.channels, r.logger)
	return nil
}

// close releases what [Runner.openPool] opened.
func (r *Runner) close() {
	if r.registry != nil {
		r.registry.Wait()
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.logger.Warn("failed to close database", "error", err)
		}
	}
	r.db, r.registry, r.channels, r.pool, r.alloc = nil, nil, nil, nil, nil
}

// pipeline is the render-and-publish stack shared by serve, job run and the dashboard.
type pipeline struct {
	store     *assets.Store
	queue     *tasks.Queue
	scheduler *automation.Scheduler
}

// newPipeline builds the queue and scheduler over the open pool. opts.Logger and opts.Context
// default to the runner's logger and ctx.
func (r *Runner) newPipeline(ctx context.Context, opts tasks.QueueOptions) (*pipeline, error) {
	store, err := assets.NewStore(r.config.Storage.SessionsDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(r.config.Storage.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	asm := assembler.New(r.exec, assembler.OptionsFromConfig(r.config.Transcoder, r.config.Storage), r.logger)

	if opts.CleanupDelay == 0 {
		opts.CleanupDelay = r.config.Queue.CleanupDelay
	}
	if opts.StatusTTL == 0 {
		opts.StatusTTL = r.config.Queue.StatusTTL
	}
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	if opts.Context == nil {
		opts.Context = ctx
	}
	queue := tasks.NewQueue(asm, store, r.registry, r.pool, opts)

	scheduler := automation.NewScheduler(
		repositories.NewCycleRepository(r.db),
		r.channels,
		r.pool,
		queue,
		automation.PolicyFromConfig(r.config.Automation),
		automation.WithLogger(r.logger),
	)
	return &pipeline{store: store, queue: queue, scheduler: scheduler}, nil
}

// runNow is an AfterFunc for one-shot commands: cleanup happens before the process exits.
func runNow(_ time.Duration, f func()) { f() }

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

// exitCode maps errors the user can act on to a quiet exit.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, shared.ErrAllAccountsBusy), errors.Is(err, shared.ErrNoCapacity):
		return 75
	default:
		return 1
	}
}
