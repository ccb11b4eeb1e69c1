// Package workflow sequences one invocation's work on one run folder: lock,
// log, wait, analyze, mark, and (in a separate flow) deliver. All
// coordination with concurrent invocations happens through the filesystem.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"runpilot/internal/config"
	"runpilot/internal/delivery"
	"runpilot/internal/lockfile"
	"runpilot/internal/logging"
	"runpilot/internal/notify"
	"runpilot/internal/runfolder"
	"runpilot/internal/runlog"
	"runpilot/internal/runner"
	"runpilot/internal/waiter"
)

// Driver executes the scan, run, and deliver flows.
type Driver struct {
	cfg      *config.Config
	logger   *slog.Logger
	notifier notify.Service
	run      *runner.Runner
	wait     *waiter.Waiter
	recorder func() *runlog.Recorder
	now      func() time.Time
}

// Option configures the driver.
type Option func(*Driver)

// WithRunner injects the process runner (tests).
func WithRunner(run *runner.Runner) Option {
	return func(d *Driver) {
		if run != nil {
			d.run = run
		}
	}
}

// WithWaiter injects the completion waiter (tests shorten the interval).
func WithWaiter(w *waiter.Waiter) Option {
	return func(d *Driver) {
		if w != nil {
			d.wait = w
		}
	}
}

// WithRecorderFactory overrides log recorder construction (tests capture
// the console mirror).
func WithRecorderFactory(f func() *runlog.Recorder) Option {
	return func(d *Driver) {
		if f != nil {
			d.recorder = f
		}
	}
}

// WithClock overrides the completion timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// New constructs a Driver.
func New(cfg *config.Config, logger *slog.Logger, notifier notify.Service, opts ...Option) *Driver {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Driver{
		cfg:      cfg,
		logger:   logger,
		notifier: notifier,
		run:      runner.New(),
		wait:     waiter.New(),
		recorder: func() *runlog.Recorder { return runlog.New() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Scan finds the first eligible run folder under searchDir and processes
// it. At most one candidate per invocation; scheduled re-invocations pick
// up the rest. Finding nothing is a normal outcome.
func (d *Driver) Scan(ctx context.Context, searchDir string) error {
	if searchDir == "" {
		searchDir = d.cfg.Paths.SearchDir
	}
	if searchDir == "" {
		return errors.New("no search directory given and paths.search_dir not configured")
	}
	folder, err := runfolder.Scan(searchDir)
	if err != nil {
		return err
	}
	if folder == nil {
		d.logger.Info("no eligible run folder", slog.String("search_dir", searchDir))
		return nil
	}
	d.logger.Info("processing candidate", slog.String("run", folder.Name()))
	return d.process(ctx, folder, true)
}

// Run processes one specific run folder through the analysis flow.
func (d *Driver) Run(ctx context.Context, path string) error {
	folder, err := runfolder.New(path)
	if err != nil {
		return err
	}
	return d.process(ctx, folder, false)
}

// process is the run-flow state machine. Returned errors are setup or usage
// failures the caller turns into a non-zero exit; every reportable workflow
// failure is notified here and yields nil, since the invocation completed
// its defined flow.
func (d *Driver) process(ctx context.Context, folder *runfolder.Folder, fromScan bool) error {
	if folder.HasMarker(runfolder.CompletionMarker) {
		if fromScan {
			d.logger.Debug("candidate already complete", slog.String("run", folder.Name()))
		} else {
			d.logger.Info(fmt.Sprintf("%s has already been processed; remove %s to process it again",
				folder.Name(), runfolder.CompletionMarker))
		}
		return nil
	}

	rec := d.recorder()
	rec.Printf("runpilot run %s (invocation %s)", folder.Name(), uuid.NewString())

	lock, err := lockfile.Acquire(folder.Path)
	if errors.Is(err, lockfile.ErrBusy) {
		// Another invocation is working this folder. Not a failure, and no
		// log rotation happens on its behalf.
		d.logger.Info("run folder busy, skipping", slog.String("run", folder.Name()))
		return nil
	}
	if err != nil {
		rec.Printf("cannot lock run folder: %v", err)
		_ = d.notifier.SetupFailed(ctx, folder.Name(), err, rec.Contents())
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			d.logger.Warn("failed to release run folder lock", slog.Any("error", err))
		}
	}()

	if err := rec.Open(folder.Join(runlog.FileName)); err != nil {
		rec.Printf("cannot open workflow log: %v", err)
		_ = d.notifier.SetupFailed(ctx, folder.Name(), err, rec.Contents())
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			d.logger.Warn("failed to close workflow log", slog.Any("error", err))
		}
	}()

	// Waiting, stage 1: the instrument must stop writing first.
	budget := d.cfg.Analysis.AcquisitionTimeoutMinutes
	rec.Printf("waiting up to %d minutes for %s", budget, runfolder.AcquisitionMarker)
	found, err := d.wait.WaitForMarker(ctx, folder.Join(runfolder.AcquisitionMarker), budget)
	if err != nil {
		return err
	}
	if !found {
		rec.Printf("%s never appeared within %d minutes; aborting", runfolder.AcquisitionMarker, budget)
		_ = d.notifier.WaitTimedOut(ctx, folder.Name(), runfolder.AcquisitionMarker, rec.Contents())
		return nil
	}
	rec.Printf("%s present", runfolder.AcquisitionMarker)

	// Waiting, stage 2 (optional): the instrument's own verdict.
	if d.cfg.Analysis.SummaryTimeoutMinutes > 0 {
		budget = d.cfg.Analysis.SummaryTimeoutMinutes
		rec.Printf("waiting up to %d minutes for %s", budget, runfolder.SummaryFile)
		found, err = d.wait.WaitForMarker(ctx, folder.Join(runfolder.SummaryFile), budget)
		if err != nil {
			return err
		}
		if !found {
			rec.Printf("%s never appeared within %d minutes; aborting", runfolder.SummaryFile, budget)
			_ = d.notifier.WaitTimedOut(ctx, folder.Name(), runfolder.SummaryFile, rec.Contents())
			return nil
		}
		ok, state, err := runfolder.SummaryReportsSuccess(folder.Join(runfolder.SummaryFile))
		if err != nil {
			rec.Printf("cannot read %s: %v", runfolder.SummaryFile, err)
			_ = d.notifier.InstrumentFailure(ctx, folder.Name(), "", rec.Contents())
			return nil
		}
		if !ok {
			rec.Printf("%s reports %q, not %q; aborting", runfolder.SummaryFile, state, runfolder.SummarySuccessToken)
			_ = d.notifier.InstrumentFailure(ctx, folder.Name(), state, rec.Contents())
			return nil
		}
		rec.Printf("instrument reports %s", state)
	}

	// Preparing: required input, then no stale output for the tool to
	// append to.
	if !folder.HasMarker(d.cfg.Analysis.SampleSheet) {
		rec.Printf("%s is missing; analysis not started", d.cfg.Analysis.SampleSheet)
		_ = d.notifier.MissingInput(ctx, folder.Name(), d.cfg.Analysis.SampleSheet, rec.Contents())
		return nil
	}
	rotated, err := folder.RenameAsideProjects()
	if err != nil {
		rec.Printf("cannot rename stale output aside: %v", err)
		_ = d.notifier.SetupFailed(ctx, folder.Name(), err, rec.Contents())
		return err
	}
	for _, name := range rotated {
		rec.Printf("renamed stale %s aside", name)
	}

	// Executing.
	rec.Printf("running analysis: %v", d.cfg.Analysis.Command)
	code, err := d.run.Run(ctx, folder.Path, d.cfg.Analysis.Command, rec)
	if err != nil {
		rec.Printf("analysis could not start: %v", err)
		_ = d.notifier.SpawnFailed(ctx, folder.Name(), err, rec.Contents())
		return nil
	}

	// Completed: "finished running" is marked whatever the exit code said,
	// so future invocations skip this folder either way.
	if err := folder.WriteCompletionMarker(d.now()); err != nil {
		rec.Printf("analysis finished but completion marker failed: %v", err)
		_ = d.notifier.SetupFailed(ctx, folder.Name(), err, rec.Contents())
		return err
	}
	if code == 0 {
		rec.Printf("analysis finished successfully")
		_ = d.notifier.AnalysisSucceeded(ctx, folder.Name(), rec.Contents())
	} else {
		rec.Printf("analysis exited with code %d", code)
		_ = d.notifier.AnalysisFailed(ctx, folder.Name(), code, rec.Contents())
	}
	return nil
}

// Deliver copies every project directory inside the run folder to its
// owner's storage. Projects succeed or fail independently; each outcome is
// reported on its own.
func (d *Driver) Deliver(ctx context.Context, path string) error {
	folder, err := runfolder.New(path)
	if err != nil {
		return err
	}

	rec := d.recorder()
	rec.Printf("runpilot deliver %s (invocation %s)", folder.Name(), uuid.NewString())

	lock, err := lockfile.Acquire(folder.Path)
	if errors.Is(err, lockfile.ErrBusy) {
		d.logger.Info("run folder busy, skipping delivery", slog.String("run", folder.Name()))
		return nil
	}
	if err != nil {
		rec.Printf("cannot lock run folder: %v", err)
		_ = d.notifier.SetupFailed(ctx, folder.Name(), err, rec.Contents())
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			d.logger.Warn("failed to release run folder lock", slog.Any("error", err))
		}
	}()

	if err := rec.Open(folder.Join(runlog.FileName)); err != nil {
		rec.Printf("cannot open workflow log: %v", err)
		_ = d.notifier.SetupFailed(ctx, folder.Name(), err, rec.Contents())
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			d.logger.Warn("failed to close workflow log", slog.Any("error", err))
		}
	}()

	projects, err := folder.Projects()
	if err != nil {
		rec.Printf("cannot enumerate project directories: %v", err)
		_ = d.notifier.SetupFailed(ctx, folder.Name(), err, rec.Contents())
		return err
	}
	if len(projects) == 0 {
		rec.Printf("no project directories to deliver")
		return nil
	}

	opts := []delivery.Option{delivery.WithRunner(d.run)}
	if len(d.cfg.Delivery.SyncCommand) > 0 {
		opts = append(opts, delivery.WithSync(d.cfg.Delivery.SyncCommand, d.cfg.Delivery.SyncRetryExit))
	}
	copier := delivery.New(d.cfg.Paths.StorageRoot, d.cfg.Delivery.Aliases, rec, opts...)

	for _, project := range projects {
		dest, err := copier.Deliver(ctx, project, folder.Name())
		switch {
		case errors.Is(err, delivery.ErrNoDestination):
			rec.Printf("no destination for %s (account %q); manual delivery needed", project.Name, project.Owner)
			_ = d.notifier.ManualDeliveryNeeded(ctx, folder.Name(), project.Name, project.Owner)
		case err != nil:
			rec.Printf("delivery of %s failed: %v", project.Name, err)
			_ = d.notifier.DeliveryFailed(ctx, folder.Name(), project.Name, err, rec.Contents())
		default:
			rec.Printf("delivered %s to %s", project.Name, dest)
			_ = d.notifier.ProjectDelivered(ctx, folder.Name(), project.Name, dest)
		}
	}
	return nil
}
