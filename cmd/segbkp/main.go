package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/segbkp/internal/config"
	"github.com/bamsammich/segbkp/internal/engine"
	"github.com/bamsammich/segbkp/internal/event"
	"github.com/bamsammich/segbkp/internal/filter"
	"github.com/bamsammich/segbkp/internal/metrics"
	"github.com/bamsammich/segbkp/internal/segment"
	"github.com/bamsammich/segbkp/internal/stats"
	"github.com/bamsammich/segbkp/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// ignoreFlag collects repeated --ignore rules in command-line order. Rules
// are appended after those from the config file.
type ignoreFlag struct {
	rules []string
}

var _ pflag.Value = (*ignoreFlag)(nil)

func (f *ignoreFlag) String() string { return strings.Join(f.rules, ",") }
func (*ignoreFlag) Type() string     { return "pattern" }

func (f *ignoreFlag) Set(val string) error {
	// Fail on bad globs while parsing flags.
	if err := filter.NewChain().AddIgnore(val); err != nil {
		return err
	}
	f.rules = append(f.rules, val)
	return nil
}

// globalFlags are shared by the backup and restore commands.
type globalFlags struct {
	logLevel string
	verbose  bool
	quiet    bool
}

// level resolves the effective log level: --verbose wins, then --log-level,
// then the config value.
func (g *globalFlags) level(fromConfig string) (slog.Level, error) {
	if g.verbose {
		return slog.LevelDebug, nil
	}
	if g.logLevel != "" {
		return config.ParseLevel(g.logLevel)
	}
	return config.ParseLevel(fromConfig)
}

func run() int {
	var (
		flags       globalFlags
		ignore      ignoreFlag
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:   "segbkp [flags] [config]",
		Short: "Segmented, incremental tar.gz backups with part splitting and hook scripts",
		Long: `segbkp archives each configured segment into a gzip-compressed tar,
optionally split into fixed-size parts, and skips segments whose content
fingerprint has not changed since the last successful run.

The config file defaults to ` + config.DefaultPath + ` and may be TOML or YAML.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "segbkp %s\n", version)
				return nil
			}
			path := config.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			return backup(cmd.Context(), path, &flags, ignore.rules...)
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	rootCmd.Flags().Var(&ignore, "ignore", "additional ignore rule, absolute path or glob (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().
		BoolVarP(&flags.quiet, "quiet", "q", false, "suppress progress output; log warnings and errors only")
	rootCmd.PersistentFlags().
		StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides log_level")

	rootCmd.AddCommand(newRestoreCmd(&flags))
	rootCmd.AddCommand(docsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 2
}

func backup(ctx context.Context, path string, flags *globalFlags, extraIgnore ...string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	split, err := cfg.SplitSize()
	if err != nil {
		return err
	}
	bwLimit, err := cfg.BandwidthLimit()
	if err != nil {
		return err
	}
	level, err := flags.level(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(level, flags.quiet, cfg.LogPath(time.Now()))
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	chain, err := filter.NewChainFrom(cfg.Ignore)
	if err != nil {
		return fmt.Errorf("ignore: %w", err)
	}
	if cfg.IgnoreFile != "" {
		if err := chain.LoadFile(cfg.IgnoreFile); err != nil {
			return err
		}
	}
	for _, rule := range extraIgnore {
		if err := chain.AddIgnore(rule); err != nil {
			return fmt.Errorf("ignore: %w", err)
		}
	}

	names := cfg.SegmentNames()
	segments := make([]segment.Segment, 0, len(names))
	for _, name := range names {
		segments = append(segments, segment.Segment{Name: name, Root: cfg.Segments[name]})
	}

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)
	presenter := ui.NewPresenter(ui.Config{
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Stats:     collector,
		IsTTY:     ui.IsTTY(os.Stderr),
		Width:     ui.Width(os.Stderr),
		Quiet:     flags.quiet,
	})

	engineCfg := engine.Config{
		Logger:       logger,
		Stats:        collector,
		Events:       events,
		RunID:        uuid.NewString(),
		OutputDir:    cfg.Output(),
		RootPath:     cfg.RootPath,
		PostScript:   cfg.PostScript,
		SkipScript:   cfg.SkipScript,
		HashFile:     cfg.HashFile,
		Segments:     segments,
		MaxPartBytes: split,
		Level:        cfg.Level(),
		BWLimit:      bwLimit,
	}
	if !chain.Empty() {
		engineCfg.Ignore = chain
	}

	logger.Debug("starting backup",
		"config", path,
		"run_id", engineCfg.RunID,
		"segments", len(segments),
		"output", engineCfg.OutputDir,
		"max_part_bytes", split,
		"level", engineCfg.Level,
	)

	var presenterErr error
	var presenterWg sync.WaitGroup
	presenterWg.Add(1)
	go func() {
		defer presenterWg.Done()
		presenterErr = presenter.Run(events)
	}()

	result := engine.Run(ctx, engineCfg)
	close(events)
	presenterWg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(os.Stderr, "presenter: %v\n", presenterErr)
	}

	code := exitCode(result)
	if !flags.quiet {
		if summary := presenter.Summary(code); summary != "" {
			fmt.Fprintln(os.Stderr, summary)
		}
	}

	if cfg.MetricsFile != "" {
		rec := metrics.NewRecorder()
		if err := rec.LoadPrevious(cfg.MetricsFile); err != nil {
			logger.Warn("read previous metrics file", "path", cfg.MetricsFile, "error", err)
		}
		rec.Observe(result.Stats, code, time.Now())
		if err := rec.WriteFile(cfg.MetricsFile); err != nil {
			logger.Warn("write metrics file", "path", cfg.MetricsFile, "error", err)
		}
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// exitCode maps a run result to the process exit status.
func exitCode(res engine.Result) int {
	switch {
	case res.Aborted != nil:
		return res.Aborted.ExitCode()
	case res.Err != nil:
		return 2
	case len(res.Failed) > 0:
		return 1
	default:
		return 0
	}
}

// newLogger builds the stderr handler and, when logPath is set, a second
// text handler appending to that file. The returned func closes the file.
func newLogger(level slog.Level, quiet bool, logPath string) (*slog.Logger, func(), error) {
	stderrLevel := level
	if quiet && stderrLevel < slog.LevelWarn {
		stderrLevel = slog.LevelWarn
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: stderrLevel})
	if logPath == "" {
		return slog.New(handler), func() {}, nil
	}

	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	lf, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	fileHandler := slog.NewTextHandler(lf, &slog.HandlerOptions{Level: level})
	handler = ui.NewMultiHandler(handler, fileHandler)
	return slog.New(handler), func() { lf.Close() }, nil
}

// exitError carries a non-zero exit status whose cause is already logged.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
