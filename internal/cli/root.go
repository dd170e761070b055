// Package cli implements the claude-memory command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/drag88/claude-memory-system/internal/config"
	"github.com/drag88/claude-memory-system/internal/journal"
	"github.com/drag88/claude-memory-system/internal/layout"
	"github.com/drag88/claude-memory-system/internal/logging"
	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries state shared by all commands of one invocation.
type app struct {
	v         *viper.Viper
	cfgFile   string
	sessionID string

	cfg    *config.Config
	loc    config.Location
	logger *slog.Logger

	svc     *memory.Service
	closers []func() error
}

// Execute runs the command line with the process streams and returns the
// exit code.
func Execute(ctx context.Context, args []string) int {
	return run(ctx, args, os.Stdin, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := &app{v: viper.New()}
	defer a.close()

	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "%s %v\n", styleError.Render("✗ Error:"), err)
	}
	return ExitCode(err)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "claude-memory",
		Short: "Persistent task memory for cooperating coding agents",
		Long: `claude-memory keeps a three-phase record per task: discovery notes in a
scratchpad, a plan that can be written once, and an append-only progress
log. Phase order is enforced under concurrent access from many agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/claude-memory/config.yaml)")
	flags.String("root", "", "storage root (overrides CLAUDE_MEMORY_PATH)")
	flags.StringVar(&a.sessionID, "session", "", "session id to operate in (default: the current session)")
	flags.Bool("debug", false, "verbose logging and debug.log in the storage root")
	_ = a.v.BindPFlag("storage.root", flags.Lookup("root"))
	_ = a.v.BindPFlag("debug", flags.Lookup("debug"))

	root.AddCommand(
		newInitCmd(a),
		newScratchpadCmd(a),
		newPlanCmd(a),
		newAppendCmd(a),
		newStatusCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newSessionCmd(a),
		newCleanupCmd(a),
		newEventsCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads configuration and builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	loc, err := cfg.ResolveRoot(cwd)
	if err != nil {
		return err
	}
	a.cfg, a.loc = cfg, loc

	opts := []logging.Option{
		logging.WithDebug(cfg.Debug),
		logging.WithFormat(cfg.Log.Format),
		logging.WithConsole(cmd.ErrOrStderr()),
	}
	if cfg.Debug {
		if err := os.MkdirAll(loc.Root, 0o755); err != nil {
			return fmt.Errorf("creating storage root: %w", err)
		}
		f, err := logging.OpenFile(layout.DebugLogPath(loc.Root))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, f.Close)
		opts = append(opts, logging.WithFile(f))
	}
	a.logger = logging.New(opts...).With(slog.Int("pid", os.Getpid()))
	a.logger.Debug("Configuration loaded",
		slog.String("root", loc.Root), slog.String("source", loc.Source))
	return nil
}

// service opens the memory service on first use. A journal that cannot be
// opened disables event recording; task memory keeps working without it.
func (a *app) service() (*memory.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	opts := []memory.Option{memory.WithLogger(a.logger)}
	if a.cfg.Journal.Enabled {
		if err := os.MkdirAll(a.loc.Root, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage root: %w", err)
		}
		j, err := journal.Open(layout.JournalPath(a.loc.Root))
		if err != nil {
			a.logger.Warn("Event journal disabled", slog.Any("error", err))
		} else {
			a.closers = append(a.closers, j.Close)
			opts = append(opts, memory.WithJournal(j))
		}
	}

	svc, err := memory.New(memory.Config{
		Root:           a.loc.Root,
		ProjectPath:    a.loc.ProjectPath,
		LockTimeout:    a.cfg.Lock.Timeout,
		StaleThreshold: a.cfg.Lock.StaleThreshold,
		RetryInterval:  a.cfg.Lock.RetryInterval,
	}, opts...)
	if err != nil {
		return nil, err
	}
	a.svc = svc
	return svc, nil
}

// scope opens the service and resolves the --session flag once.
func (a *app) scope(ctx context.Context) (*memory.Service, memory.Scope, error) {
	svc, err := a.service()
	if err != nil {
		return nil, memory.Scope{}, err
	}
	scope, err := svc.ScopeFor(ctx, a.sessionID)
	if err != nil {
		return nil, memory.Scope{}, err
	}
	return svc, scope, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("Failed to close resource", slog.Any("error", err))
		}
	}
	a.closers = nil
}
