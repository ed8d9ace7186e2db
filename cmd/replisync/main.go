package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/replisync/replisync/pkg/buildinfo"
	"github.com/replisync/replisync/pkg/config"
	"github.com/replisync/replisync/pkg/engine"
	"github.com/replisync/replisync/pkg/flagparse"
	"github.com/replisync/replisync/pkg/lockfile"
	"github.com/replisync/replisync/pkg/plog"
	"github.com/replisync/replisync/pkg/preflight"
)

// action defines a special command to execute instead of the mirror loop.
type action int

const (
	actionRunMirror action = iota // The default action is to run the mirror.
	actionShowVersion
	actionInitConfig
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "A periodic one-way directory mirror: the replica is made an exact copy of the source.\n\n")
		flag.PrintDefaults()
	}
}

// parseFlagConfig defines and parses command-line flags, and constructs a
// flag map containing only the values the user actually provided.
func parseFlagConfig() (action, map[string]any, error) {
	// Flags cover everything useful to override for a single run. Settings
	// that define the long-term behavior of a replica belong in the
	// replisync.config.json file inside the replica directory.
	sourceFlag := flag.String("source", "", "Source directory to mirror from")
	replicaFlag := flag.String("replica", "", "Replica directory to mirror into")
	intervalFlag := flag.Duration("interval", 5*time.Minute, "Time between mirror passes (e.g. 30s, 5m, 1h).")
	logLevelFlag := flag.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	logFileFlag := flag.String("log-file", "", "Also write logs to this file (rotated automatically).")
	onceFlag := flag.Bool("once", false, "Run a single mirror pass and exit.")
	dryRunFlag := flag.Bool("dry-run", false, "Show what would be done without making any changes.")
	metricsFlag := flag.Bool("metrics", true, "Log a per-pass summary of counts and bytes.")
	requireMountFlag := flag.Bool("require-mount", false, "Refuse a replica that sits on the root filesystem (ghost mount detection).")
	copyWorkersFlag := flag.Int("copy-workers", 0, "Number of worker goroutines for file copies.")
	hashWorkersFlag := flag.Int("hash-workers", 0, "Number of worker goroutines for content hashing (0 = one per CPU).")
	bufferSizeKBFlag := flag.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for hashing and file copies.")
	excludeFilesFlag := flag.String("exclude-files", "", "Comma-separated list of file names to exclude (supports glob patterns).")
	excludeDirsFlag := flag.String("exclude-dirs", "", "Comma-separated list of directory names to exclude (supports glob patterns).")
	trashFlag := flag.Bool("trash", false, "Archive files into the replica's trash directory before deleting them.")
	trashFormatFlag := flag.String("trash-format", "", "Trash archive format: 'tar.gz' or 'tar.zst'.")
	initFlag := flag.Bool("init", false, "Write the effective configuration into the replica directory and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	usedFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)
	addIfUsed := func(name string, value any) {
		if usedFlags[name] {
			flagMap[name] = value
		}
	}

	addIfUsed("source", *sourceFlag)
	addIfUsed("replica", *replicaFlag)
	addIfUsed("interval", *intervalFlag)
	addIfUsed("log-level", *logLevelFlag)
	addIfUsed("log-file", *logFileFlag)
	addIfUsed("once", *onceFlag)
	addIfUsed("dry-run", *dryRunFlag)
	addIfUsed("metrics", *metricsFlag)
	addIfUsed("require-mount", *requireMountFlag)
	addIfUsed("copy-workers", *copyWorkersFlag)
	addIfUsed("hash-workers", *hashWorkersFlag)
	addIfUsed("buffer-size-kb", *bufferSizeKBFlag)
	addIfUsed("trash", *trashFlag)
	addIfUsed("trash-format", *trashFormatFlag)
	if usedFlags["exclude-files"] {
		flagMap["exclude-files"] = flagparse.ParseExcludeList(*excludeFilesFlag)
	}
	if usedFlags["exclude-dirs"] {
		flagMap["exclude-dirs"] = flagparse.ParseExcludeList(*excludeDirsFlag)
	}

	if *versionFlag {
		return actionShowVersion, flagMap, nil
	}
	if *initFlag {
		return actionInitConfig, flagMap, nil
	}
	return actionRunMirror, flagMap, nil
}

// buildRunConfig loads the replica's config file, overlays the flags and
// validates the result.
func buildRunConfig(flagMap map[string]any) (config.Config, error) {
	replicaPath, ok := flagMap["replica"].(string)
	if !ok || replicaPath == "" {
		return config.Config{}, fmt.Errorf("the -replica flag is required")
	}

	loaded, err := config.Load(replicaPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration from replica: %w", err)
	}
	runConfig := config.MergeConfigWithFlags(loaded, flagMap)
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	if runConfig.LogFile != "" {
		plog.SetFileOutput(runConfig.LogFile)
	}
	return runConfig, nil
}

// runInit writes the effective configuration into the replica directory.
func runInit(flagMap map[string]any) error {
	runConfig, err := buildRunConfig(flagMap)
	if err != nil {
		return err
	}
	if err := preflight.CheckReplicaWritable(runConfig.Replica); err != nil {
		return err
	}
	return config.Generate(runConfig)
}

// runMirror runs the preflight checks, takes the replica lock and starts the
// mirror loop.
func runMirror(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := buildRunConfig(flagMap)
	if err != nil {
		return err
	}
	runConfig.LogSummary()

	if err := preflight.CheckSourceAccessible(runConfig.Source); err != nil {
		return err
	}
	if err := preflight.CheckRootOverlap(runConfig.Source, runConfig.Replica); err != nil {
		return err
	}
	if err := preflight.CheckReplicaAccessible(runConfig.Replica, runConfig.RequireMount); err != nil {
		return err
	}
	if !runConfig.Runtime.DryRun {
		if err := preflight.CheckReplicaWritable(runConfig.Replica); err != nil {
			return err
		}
	}

	var lock *lockfile.Lock
	if !runConfig.Runtime.DryRun {
		lock, err = lockfile.Acquire(ctx, runConfig.Replica)
		if err != nil {
			var active *lockfile.ErrLockActive
			if errors.As(err, &active) {
				plog.Warn("Another instance is already mirroring this replica, exiting", "error", active)
				return nil
			}
			return err
		}
		defer lock.Release()
	}

	err = engine.New(runConfig, nil).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	plog.Info(buildinfo.Name + " shut down cleanly")
	return nil
}

// run encapsulates the main application logic and returns an error so main
// can handle exit codes.
func run(ctx context.Context) error {
	action, flagMap, err := parseFlagConfig()
	if err != nil {
		return err
	}

	switch action {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	case actionInitConfig:
		return runInit(flagMap)
	case actionRunMirror:
		plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())
		return runMirror(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown action %d", action)
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		plog.Notice("Shutdown signal received, stopping after the operation in flight")
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
