// Package restore applies planned restore steps against a live SQL
// Server connection. The executor owns the per-database state machine:
// precondition handling for existing databases, the step loop, progress
// polling, and per-step result emission. Databases are processed
// strictly sequentially; a step failure abandons that database's
// remaining steps but never the batch.
package restore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"sqlrestore/internal/catalog"
	"sqlrestore/internal/database"
	apperrors "sqlrestore/internal/errors"
	"sqlrestore/internal/logger"
	"sqlrestore/internal/plan"
	"sqlrestore/internal/progress"
	"sqlrestore/internal/report"
)

// Mode selects what Run does with each planned step. Modes are
// mutually exclusive per invocation.
type Mode int

const (
	// ModeExecute runs the restore statements.
	ModeExecute Mode = iota
	// ModeScriptOnly renders and accumulates the T-SQL without
	// executing anything.
	ModeScriptOnly
	// ModeVerifyOnly verifies the first step's media per database and
	// short-circuits the remaining steps.
	ModeVerifyOnly
)

func (m Mode) String() string {
	switch m {
	case ModeScriptOnly:
		return "script-only"
	case ModeVerifyOnly:
		return "verify-only"
	default:
		return "execute"
	}
}

// Recorder persists one catalog entry per executed step. The executor
// treats recording as advisory: a catalog failure is logged, never
// fatal to the restore.
type Recorder interface {
	Record(ctx context.Context, entry *catalog.Entry) error
}

// CleanupAction is the advisory outcome of a best-effort cleanup stage
// (session killing, lock clearing). It is attached to the database
// report and logged, but never fails the restore on its own.
type CleanupAction struct {
	Stage     string
	Target    string
	Attempted bool
	Killed    int
	Err       error
}

// DatabaseReport is the outcome of one database's restore sequence.
type DatabaseReport struct {
	Database        string
	RestoreComplete bool
	Skipped         bool
	SkipReason      string
	VerifyMessage   string
	Script          string
	Results         []report.RestoreResult
	Cleanup         []CleanupAction
	Err             error
	Elapsed         time.Duration
}

// RunReport is the outcome of one batch invocation.
type RunReport struct {
	Instance  string
	Mode      Mode
	Databases []DatabaseReport
	Elapsed   time.Duration
}

// Results flattens every per-step result in batch order.
func (r *RunReport) Results() []report.RestoreResult {
	var out []report.RestoreResult
	for _, db := range r.Databases {
		out = append(out, db.Results...)
	}
	return out
}

// Scripts concatenates the accumulated script text of a script-only
// run, one batch per step, GO-separated.
func (r *RunReport) Scripts() string {
	var parts []string
	for _, db := range r.Databases {
		if db.Script != "" {
			parts = append(parts, db.Script)
		}
	}
	return strings.Join(parts, "\n")
}

// Executor drives planned restore steps against one server.
type Executor struct {
	connector database.Connector
	log       logger.Logger
	progress  progress.Indicator
	// spinner covers the indeterminate cleanup stage; the engine
	// reports no percentage for session kills and lock clearing.
	spinner  progress.Indicator
	prompter Prompter
	recorder Recorder
	opts     plan.Options
	mode     Mode

	mu       sync.Mutex
	restored []string

	// pollInterval is how often the engine's percent_complete is
	// sampled during a running restore.
	pollInterval time.Duration
}

// New creates an executor with a live progress bar.
func New(connector database.Connector, log logger.Logger, opts plan.Options, mode Mode) *Executor {
	return NewWithProgress(connector, log, opts, mode, progress.NewIndicator(false))
}

// NewSilent creates an executor with no stdout progress.
func NewSilent(connector database.Connector, log logger.Logger, opts plan.Options, mode Mode) *Executor {
	return NewWithProgress(connector, log, opts, mode, progress.NewNullIndicator())
}

// NewWithProgress creates an executor with a custom progress indicator.
func NewWithProgress(connector database.Connector, log logger.Logger, opts plan.Options, mode Mode, ind progress.Indicator) *Executor {
	if ind == nil {
		ind = progress.NewNullIndicator()
	}
	var spin progress.Indicator = progress.NewNullIndicator()
	if _, silent := ind.(*progress.NullIndicator); !silent {
		spin = progress.NewSpinner()
	}
	return &Executor{
		connector:    connector,
		log:          log,
		progress:     ind,
		spinner:      spin,
		prompter:     NewStdinPrompter(),
		opts:         opts,
		mode:         mode,
		pollInterval: 2 * time.Second,
	}
}

// SetPrompter replaces the confirmation prompter (tests, TUI hosts).
func (e *Executor) SetPrompter(p Prompter) {
	if p != nil {
		e.prompter = p
	}
}

// SetRecorder attaches a catalog recorder.
func (e *Executor) SetRecorder(r Recorder) {
	e.recorder = r
}

// RestoredDatabases returns the names restored so far in this process,
// for downstream tooling.
func (e *Executor) RestoredDatabases() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.restored))
	copy(out, e.restored)
	return out
}

func (e *Executor) markRestored(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.restored {
		if strings.EqualFold(existing, name) {
			return
		}
	}
	e.restored = append(e.restored, name)
}

// Run applies the plans database by database, in the caller's order.
// The returned error is nil when every database succeeded or was
// skipped; step failures are aggregated and returned alongside the
// full report. Connection failures abort the batch immediately.
func (e *Executor) Run(ctx context.Context, plans map[string][]plan.Step, order []string) (*RunReport, error) {
	started := time.Now()
	run := &RunReport{Instance: e.connector.Target(), Mode: e.mode}

	var runErr *multierror.Error
	for _, name := range order {
		steps := plans[name]
		if len(steps) == 0 {
			continue
		}

		dbReport, err := e.runDatabase(ctx, name, steps)
		run.Databases = append(run.Databases, dbReport)

		if err != nil {
			if apperrors.IsFatal(err) || ctx.Err() != nil {
				run.Elapsed = time.Since(started)
				return run, err
			}
			runErr = multierror.Append(runErr, fmt.Errorf("database %s: %w", name, err))
		}
	}

	run.Elapsed = time.Since(started)
	return run, runErr.ErrorOrNil()
}

// runDatabase runs one database's sequence on its own scoped session.
func (e *Executor) runDatabase(ctx context.Context, name string, steps []plan.Step) (DatabaseReport, error) {
	started := time.Now()
	dbr := DatabaseReport{Database: name}

	sess, err := e.connector.Connect(ctx)
	if err != nil {
		dbr.Err = err
		dbr.Elapsed = time.Since(started)
		return dbr, err
	}
	defer func() { _ = sess.Close() }()

	if e.mode == ModeVerifyOnly {
		e.verifyDatabase(ctx, sess, name, steps, &dbr)
		dbr.Elapsed = time.Since(started)
		return dbr, dbr.Err
	}

	proceed, fresh, err := e.prepareTarget(ctx, sess, name, &dbr)
	if err != nil {
		dbr.Err = err
		dbr.Elapsed = time.Since(started)
		return dbr, err
	}
	if fresh != nil {
		sess = fresh
		defer func() { _ = fresh.Close() }()
	}
	if !proceed {
		dbr.Elapsed = time.Since(started)
		return dbr, nil
	}

	e.runSteps(ctx, sess, name, steps, &dbr)
	dbr.Elapsed = time.Since(started)
	return dbr, dbr.Err
}

// verifyDatabase checks the first step's media and short-circuits the
// rest of that database's steps. No precondition handling runs: verify
// never touches the target database.
func (e *Executor) verifyDatabase(ctx context.Context, sess database.Session, name string, steps []plan.Step, dbr *DatabaseReport) {
	step := &steps[0]
	script := step.VerifyScript()

	e.log.Info("Verifying backup media", "database", name, "files", strings.Join(step.Files, ", "))
	stepStart := time.Now()

	ok, message, err := sess.Verify(ctx, script)
	elapsed := time.Since(stepStart)
	if err != nil {
		dbr.Err = apperrors.NewStepError(apperrors.ErrCodeVerifyFailed,
			fmt.Sprintf("verification of %s could not run", name), err)
		dbr.Results = append(dbr.Results, report.FromStep(e.connector.Target(), step,
			report.Outcome{Err: dbr.Err, Elapsed: elapsed, Total: elapsed}))
		return
	}

	dbr.VerifyMessage = message
	dbr.RestoreComplete = ok
	dbr.Results = append(dbr.Results, report.FromStep(e.connector.Target(), step,
		report.Outcome{Success: ok, Elapsed: elapsed, Total: elapsed, Script: script}))
	if ok {
		e.log.Info("Backup media verified", "database", name, "elapsed", elapsed.Round(time.Millisecond))
	} else {
		e.log.Warn("Backup media failed verification", "database", name)
	}
}

// prepareTarget clears the way for a restore over an existing database.
// It returns proceed=false when the database must be skipped, and a
// fresh session when the lock-clearing DDL forced a reconnect.
func (e *Executor) prepareTarget(ctx context.Context, sess database.Session, name string, dbr *DatabaseReport) (bool, database.Session, error) {
	exists, err := sess.DatabaseExists(ctx, name)
	if err != nil {
		return false, nil, apperrors.NewStepError(apperrors.ErrCodePrepareFailed,
			fmt.Sprintf("could not check whether %s exists", name), err)
	}
	if !exists {
		return true, nil, nil
	}

	if !e.opts.WithReplace {
		// A skipped database leaves no restore results: nothing was
		// attempted. The warning and the report's skip flag are its
		// only trace.
		reason := "database exists and WithReplace was not specified"
		e.log.Warn("Skipping database", "database", name, "reason", reason)
		dbr.Skipped = true
		dbr.SkipReason = reason
		return false, nil, nil
	}

	// Script-only runs honor the replace decision but never mutate the
	// server; the REPLACE clause in the rendered script does the work.
	if e.mode == ModeScriptOnly {
		return true, nil, nil
	}

	edition, err := sess.EngineEdition(ctx)
	if err != nil {
		e.log.Warn("Could not determine engine edition, assuming standard semantics",
			"database", name, "error", err)
	}

	if edition.ManagedInstance() {
		// Managed instances refuse replace-in-place; drop outright.
		ok, err := e.confirmStage("drop", fmt.Sprintf("drop existing database %s on %s", name, e.connector.Target()))
		if err != nil {
			return false, nil, err
		}
		if !ok {
			if e.opts.Confirm == plan.ConfirmDryRun {
				return true, nil, nil
			}
			dbr.Skipped = true
			dbr.SkipReason = "drop declined"
			return false, nil, nil
		}
		if err := sess.DropDatabase(ctx, name); err != nil {
			return false, nil, apperrors.NewStepError(apperrors.ErrCodePrepareFailed,
				fmt.Sprintf("could not drop %s before restore", name), err)
		}
		return true, nil, nil
	}

	ok, err := e.confirmStage("clear", fmt.Sprintf("kill sessions and clear locks on %s", name))
	if err != nil {
		return false, nil, err
	}
	if !ok {
		if e.opts.Confirm == plan.ConfirmDryRun {
			return true, nil, nil
		}
		dbr.Skipped = true
		dbr.SkipReason = "lock clearing declined"
		return false, nil, nil
	}

	e.spinner.Start(fmt.Sprintf("Preparing %s", name))

	// Both cleanup stages are advisory: a database we cannot quiesce
	// may still restore if the blocking sessions drain on their own.
	killed, killErr := sess.KillSessions(ctx, name)
	dbr.Cleanup = append(dbr.Cleanup, CleanupAction{
		Stage: "kill-sessions", Target: name, Attempted: true, Killed: killed, Err: killErr,
	})
	if killErr != nil {
		e.log.Debug("Session kill incomplete", "database", name, "killed", killed, "error", killErr)
	}

	clearErr := sess.ClearLocks(ctx, name)
	dbr.Cleanup = append(dbr.Cleanup, CleanupAction{
		Stage: "clear-locks", Target: name, Attempted: true, Err: clearErr,
	})
	if clearErr != nil {
		e.log.Debug("Lock clearing incomplete", "database", name, "error", clearErr)
	}

	e.spinner.Stop()

	// The out-of-band ALTER DATABASE cycle leaves the pool's cached
	// metadata stale; reconnect before restoring.
	_ = sess.Close()
	fresh, err := e.connector.Connect(ctx)
	if err != nil {
		return false, nil, err
	}
	return true, fresh, nil
}

// runSteps applies the ordered steps. The first failure abandons the
// database's remaining steps.
func (e *Executor) runSteps(ctx context.Context, sess database.Session, name string, steps []plan.Step, dbr *DatabaseReport) {
	var cumulative time.Duration
	var scripts []string

	for i := range steps {
		step := &steps[i]
		script := step.Script()
		if e.opts.KeepCDC && !step.NoRecovery {
			// The renderer never emits KEEP_CDC; it is appended
			// textually on the recovering step only.
			script += ", KEEP_CDC"
		}

		if e.mode == ModeScriptOnly {
			scripts = append(scripts, script)
			continue
		}

		label := fmt.Sprintf("restore %s step %d/%d (%s)", name, i+1, len(steps), step.Action)
		ok, err := e.confirmStage("restore", label)
		if err != nil {
			dbr.Err = err
			return
		}
		if !ok {
			if e.opts.Confirm == plan.ConfirmDryRun {
				continue // announced only; nothing executed
			}
			e.log.Warn("Restore step declined, abandoning database", "database", name, "step", i+1)
			dbr.Skipped = true
			dbr.SkipReason = "restore declined"
			return
		}

		e.log.Info("Restoring", "database", name, "step", fmt.Sprintf("%d/%d", i+1, len(steps)),
			"action", step.Action.String(), "files", strings.Join(step.Files, ", "))

		elapsed, execErr := e.executeStep(ctx, sess, name, step, script, i+1, len(steps))
		cumulative += elapsed

		outcome := report.Outcome{
			Success: execErr == nil,
			Err:     execErr,
			Elapsed: elapsed,
			Total:   cumulative,
		}
		dbr.Results = append(dbr.Results, report.FromStep(e.connector.Target(), step, outcome))
		e.record(ctx, step, outcome)

		if execErr != nil {
			dbr.Err = apperrors.NewStepError(apperrors.ErrCodeRestoreFailed,
				fmt.Sprintf("restore of %s failed at step %d of %d", name, i+1, len(steps)), execErr)
			e.progress.Fail(fmt.Sprintf("%s step %d/%d failed", name, i+1, len(steps)))
			return
		}
	}

	if e.mode == ModeScriptOnly {
		dbr.Script = strings.Join(scripts, "\nGO\n")
		dbr.RestoreComplete = true
		return
	}
	if e.opts.Confirm == plan.ConfirmDryRun {
		return // every stage was announced, none executed
	}

	dbr.RestoreComplete = true
	e.markRestored(name)
	e.progress.Complete(fmt.Sprintf("%s restored (%d steps, %s)",
		name, len(steps), cumulative.Round(time.Second)))
}

// executeStep runs one restore statement while polling the engine's
// percent_complete on a ticker to drive the progress indicator.
func (e *Executor) executeStep(ctx context.Context, sess database.Session, name string, step *plan.Step, script string, n, total int) (time.Duration, error) {
	e.progress.Start(fmt.Sprintf("Restoring %s (%d/%d)", name, n, total))

	pollCtx, stopPolling := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				pct, err := sess.RestoreProgress(pollCtx, name)
				if err != nil || pct <= 0 {
					continue
				}
				e.progress.Update(pct, step.Action.String())
			}
		}
	}()

	started := time.Now()
	err := sess.Execute(ctx, script)
	elapsed := time.Since(started)

	stopPolling()
	wg.Wait()
	e.progress.Stop()

	return elapsed, err
}

// record writes one catalog entry per executed step; failures are
// advisory.
func (e *Executor) record(ctx context.Context, step *plan.Step, out report.Outcome) {
	if e.recorder == nil {
		return
	}
	entry := catalog.EntryFromStep(e.connector.Target(), step, out.Success, out.Err, out.Elapsed, e.mode == ModeScriptOnly)
	if err := e.recorder.Record(ctx, entry); err != nil {
		e.log.Debug("Could not record restore in catalog", "database", step.Database, "error", err)
	}
}

// confirmStage applies the confirmation policy to one mutating stage.
func (e *Executor) confirmStage(stage, detail string) (bool, error) {
	switch e.opts.Confirm {
	case plan.ConfirmNone:
		return true, nil
	case plan.ConfirmDryRun:
		e.log.Info("DRY RUN", "stage", stage, "action", detail)
		return false, nil
	default:
		return e.prompter.Confirm(stage, detail)
	}
}
