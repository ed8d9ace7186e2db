// Package engine drives the mirror: it scans both roots, diffs them, applies
// the plan and repeats on a fixed interval until cancelled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/replisync/replisync/pkg/config"
	"github.com/replisync/replisync/pkg/event"
	"github.com/replisync/replisync/pkg/pathapply"
	"github.com/replisync/replisync/pkg/pathdiff"
	"github.com/replisync/replisync/pkg/pathscan"
	"github.com/replisync/replisync/pkg/pathtrash"
	"github.com/replisync/replisync/pkg/plog"
	"github.com/replisync/replisync/pkg/util"
)

// Runner owns the per-pair mirror pipeline. Scanner, applier and buffer
// pools live for the process lifetime; metrics are reset per pass.
type Runner struct {
	cfg     config.Config
	scanner *pathscan.Scanner
	applier *pathapply.Applier
	trash   *pathtrash.Archiver
	metrics *pathapply.SyncMetrics

	srcFileExcl pathscan.ExclusionSet
	srcDirExcl  pathscan.ExclusionSet
	repFileExcl pathscan.ExclusionSet
	repDirExcl  pathscan.ExclusionSet
}

// New builds a Runner from a validated configuration. A nil sink defaults to
// logging every action through plog.
func New(cfg config.Config, sink event.Sink) *Runner {
	if sink == nil {
		sink = event.LogSink{DryRun: cfg.Runtime.DryRun}
	}
	metrics := pathapply.NewSyncMetrics()

	r := &Runner{
		cfg:     cfg,
		scanner: pathscan.NewScanner(cfg.Performance.BufferSizeKB, cfg.Performance.HashWorkers, sink),
		applier: pathapply.New(cfg.Source, cfg.Replica, pathapply.Options{
			CopyWorkers:  cfg.Performance.CopyWorkers,
			BufferSizeKB: cfg.Performance.BufferSizeKB,
			DryRun:       cfg.Runtime.DryRun,
			Metrics:      metrics,
			Sink:         sink,
		}),
		metrics:     metrics,
		srcFileExcl: pathscan.CompileExclusions(cfg.SourceExcludeFiles()),
		srcDirExcl:  pathscan.CompileExclusions(cfg.SourceExcludeDirs()),
		repFileExcl: pathscan.CompileExclusions(cfg.ReplicaExcludeFiles()),
		repDirExcl:  pathscan.CompileExclusions(cfg.ReplicaExcludeDirs()),
	}
	if cfg.Trash.Enabled {
		r.trash = pathtrash.New(cfg.Replica, cfg.Trash.Format, cfg.Performance.BufferSizeKB)
	}
	return r
}

// Run executes passes until the context is cancelled. The first pass starts
// immediately; each following pass is anchored to the previous pass's start
// time plus the interval. An overrunning pass triggers the next one right
// away, so the schedule drifts rather than stacking passes. Pass errors are
// logged and the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.cfg.Interval()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			plog.Error("Mirror pass failed", "error", err)
		}
		if r.cfg.Runtime.Once {
			return nil
		}

		wait := time.Until(start.Add(interval))
		if wait < 0 {
			plog.Warn("Pass overran the interval, starting next pass immediately",
				"interval", interval.String(), "overrun", (-wait).Round(time.Millisecond).String())
			wait = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RunOnce executes a single mirror pass: scan both roots concurrently, diff,
// archive doomed files when trash is enabled, apply.
func (r *Runner) RunOnce(ctx context.Context) error {
	start := time.Now()
	plog.Info("Starting mirror pass", "source", r.cfg.Source, "replica", r.cfg.Replica)
	r.metrics.Reset()

	if !r.cfg.Runtime.DryRun {
		if err := os.MkdirAll(r.cfg.Replica, util.UserWritableDirPerms); err != nil {
			return fmt.Errorf("failed to create replica directory: %w", err)
		}
	}

	var srcInv, repInv pathscan.Inventory
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		srcInv, err = r.scanner.Scan(gctx, r.cfg.Source, r.srcFileExcl, r.srcDirExcl)
		if err != nil {
			return fmt.Errorf("source scan failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		repInv, err = r.scanner.Scan(gctx, r.cfg.Replica, r.repFileExcl, r.repDirExcl)
		if err != nil {
			// A dry run never creates the replica, so a missing replica just
			// means everything would be copied.
			if r.cfg.Runtime.DryRun && errors.Is(err, fs.ErrNotExist) {
				repInv = pathscan.Inventory{}
				return nil
			}
			return fmt.Errorf("replica scan failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	plan := pathdiff.Diff(srcInv, repInv)
	if len(plan) == 0 {
		plog.Info("Replica is up to date",
			"entries", len(srcInv), "elapsed", time.Since(start).Round(time.Millisecond).String())
		return nil
	}
	plog.Info("Planned operations", "count", len(plan))

	if r.trash != nil && !r.cfg.Runtime.DryRun {
		if _, err := r.trash.ArchiveDoomed(ctx, plan); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			plog.Warn("Failed to archive doomed files, deleting without trash", "error", err)
		}
	}

	if err := r.applier.Apply(ctx, plan); err != nil {
		return err
	}
	if r.cfg.Metrics {
		r.metrics.LogSummary(time.Since(start))
	}
	return nil
}
