package redeem

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"guildpost/internal/discord"
	"guildpost/internal/types"
)

// TaskStore abstracts the redeem task operations the coordinator needs.
type TaskStore interface {
	// ListPending returns all tasks awaiting a runner attempt.
	ListPending(ctx context.Context) ([]*types.RedeemTask, error)
	// MarkDone transitions a task pending -> done. The transition is
	// conditional on the task still being pending; the return reports
	// whether this call claimed it.
	MarkDone(ctx context.Context, id string, result string, completedAt time.Time) (bool, error)
}

// AuditLog records per-task runner outcomes. Writes are best-effort.
type AuditLog interface {
	Append(ctx context.Context, entry *types.RedeemLog) error
}

// CoordinatorConfig holds the dependencies and tunables for a Coordinator.
type CoordinatorConfig struct {
	Store  TaskStore
	Audit  AuditLog
	Runner Runner
	Sender discord.MessageSender
	Logger *slog.Logger

	// RunnerTimeout bounds each runner invocation. A hung automation script
	// is killed at the deadline and classified as a "Timeout" failure.
	RunnerTimeout time.Duration
	// Concurrency bounds simultaneous runner invocations across all groups.
	// 1 means fully sequential.
	Concurrency int
	// ReportLimit is the maximum report payload length in runes.
	ReportLimit int

	// Now is the clock source, overridable in tests.
	Now func() time.Time
}

// Coordinator is the redeem polling loop body. Each pass is self-contained:
// no state survives between passes, the task store is the arbiter of truth.
type Coordinator struct {
	store         TaskStore
	audit         AuditLog
	runner        Runner
	sender        discord.MessageSender
	logger        *slog.Logger
	runnerTimeout time.Duration
	sem           *semaphore.Weighted
	reportLimit   int
	now           func() time.Time
}

// NewCoordinator creates a Coordinator from the given configuration.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ReportLimit <= 0 {
		cfg.ReportLimit = DefaultReportLimit
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		store:         cfg.Store,
		audit:         cfg.Audit,
		runner:        cfg.Runner,
		sender:        cfg.Sender,
		logger:        logger,
		runnerTimeout: cfg.RunnerTimeout,
		sem:           semaphore.NewWeighted(int64(cfg.Concurrency)),
		reportLimit:   cfg.ReportLimit,
		now:           now,
	}
}

// taskGroup is the working set for one batch within a single pass.
type taskGroup struct {
	batchID string
	tasks   []*types.RedeemTask
}

// RunOnce performs one complete poll pass: query pending tasks, group them
// by batch, run every task to a terminal outcome, and deliver one aggregate
// report per group. Groups are processed concurrently; a failure inside one
// group never affects another.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	pending, err := c.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("redeem: querying pending tasks: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	groups := groupTasks(pending)

	c.logger.InfoContext(ctx, "pending redeem tasks found",
		"task_count", len(pending),
		"batch_count", len(groups),
	)

	var eg errgroup.Group
	for _, g := range groups {
		eg.Go(func() error {
			c.processGroup(ctx, g)
			return nil
		})
	}
	_ = eg.Wait()

	return nil
}

// groupTasks partitions tasks by batch ID. A task without a batch ID (the
// solo legacy path) forms its own singleton group under a generated
// sentinel, preserving one report per solo submission. Group order follows
// first appearance in the pending list.
func groupTasks(tasks []*types.RedeemTask) []*taskGroup {
	var groups []*taskGroup
	index := make(map[string]*taskGroup)

	for _, t := range tasks {
		batchID := t.BatchID
		if batchID == "" {
			batchID = "solo_" + uuid.NewString()
		}
		g, ok := index[batchID]
		if !ok {
			g = &taskGroup{batchID: batchID}
			index[batchID] = g
			groups = append(groups, g)
		}
		g.tasks = append(g.tasks, t)
	}

	return groups
}

// processGroup runs every task in the group to a terminal outcome, then
// sends the consolidated report. Tasks inside a group run sequentially; the
// global semaphore bounds runner invocations across groups.
func (c *Coordinator) processGroup(ctx context.Context, g *taskGroup) {
	logger := c.logger.With("batch_id", g.batchID)

	report := &types.BatchReport{BatchID: g.batchID}

	for _, task := range g.tasks {
		// Last-seen task wins for code and channel, matching the inherited
		// batch reporting behavior.
		report.Code = task.Code
		report.ChannelID = task.ChannelID

		c.processTask(ctx, logger, g.batchID, task, report)
	}

	c.sendReport(ctx, logger, report)
}

// processTask runs one task through the runner and finalizes it. Every path
// marks the task done: success, timeout, crash, and malformed output are all
// terminal per-pass outcomes. An unclaimed MarkDone (another pass finalized
// the task first) drops the outcome from this group's report.
func (c *Coordinator) processTask(ctx context.Context, logger *slog.Logger, batchID string, task *types.RedeemTask, report *types.BatchReport) {
	logger = logger.With(
		"task_id", task.ID,
		"player_id", task.PlayerID,
		"code", task.Code,
	)

	raw, runErr := c.invokeRunner(ctx, batchID, task)

	var (
		result    string
		successes []string
		failures  []types.PlayerFailure
	)

	switch {
	case runErr != nil:
		reason := failureReason(runErr)
		failures = append(failures, types.PlayerFailure{PlayerID: task.PlayerID, Reason: reason})
		result = fmt.Sprintf("%s -> Failed, %s", task.PlayerID, reason)
		logger.ErrorContext(ctx, "runner invocation failed",
			"reason", reason,
			"error", runErr,
		)
	default:
		parsed, parseErr := types.ParseRunnerResult([]byte(raw))
		if parseErr != nil {
			reason := failureReason(parseErr)
			failures = append(failures, types.PlayerFailure{PlayerID: task.PlayerID, Reason: reason})
			result = fmt.Sprintf("%s -> Failed, %s", task.PlayerID, reason)
			logger.ErrorContext(ctx, "runner output unparseable",
				"output", truncateForLog(raw),
				"error", parseErr,
			)
		} else {
			for _, s := range parsed.Success {
				successes = append(successes, s.PlayerID)
			}
			for _, f := range parsed.Failure {
				failures = append(failures, types.PlayerFailure{PlayerID: f.PlayerID, Reason: f.Detail})
			}
			result = raw
		}
	}

	claimed, markErr := c.store.MarkDone(ctx, task.ID, result, c.now())
	if markErr != nil {
		// The task stays pending and will be re-attempted next pass. Its
		// outcome is excluded so the eventual report counts it exactly once.
		logger.ErrorContext(ctx, "failed to mark task done, task will be reprocessed",
			"error", markErr,
		)
		return
	}
	if !claimed {
		logger.WarnContext(ctx, "task was already finalized elsewhere, outcome dropped")
		return
	}

	report.Successes = append(report.Successes, successes...)
	report.Failures = append(report.Failures, failures...)

	c.appendAudit(ctx, logger, batchID, task, successes, failures)
}

// invokeRunner executes the runner under the per-invocation timeout, gated
// by the global concurrency semaphore.
func (c *Coordinator) invokeRunner(ctx context.Context, batchID string, task *types.RedeemTask) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", types.NewAppError(types.ErrCodeRunnerFailed, "coordinator shutting down", err)
	}
	defer c.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, c.runnerTimeout)
	defer cancel()

	return c.runner.Run(runCtx, task.Code, task.PlayerID, batchID)
}

// appendAudit writes one redeem_logs row per player outcome. Best-effort: a
// failed audit write is logged and ignored.
func (c *Coordinator) appendAudit(ctx context.Context, logger *slog.Logger, batchID string, task *types.RedeemTask, successes []string, failures []types.PlayerFailure) {
	if c.audit == nil {
		return
	}
	for _, pid := range successes {
		c.writeAudit(ctx, logger, &types.RedeemLog{
			BatchID:  batchID,
			Code:     task.Code,
			PlayerID: pid,
			Result:   "success",
		})
	}
	for _, f := range failures {
		c.writeAudit(ctx, logger, &types.RedeemLog{
			BatchID:  batchID,
			Code:     task.Code,
			PlayerID: f.PlayerID,
			Result:   "failure",
			Reason:   f.Reason,
		})
	}
}

func (c *Coordinator) writeAudit(ctx context.Context, logger *slog.Logger, entry *types.RedeemLog) {
	if err := c.audit.Append(ctx, entry); err != nil {
		logger.WarnContext(ctx, "audit log write failed",
			"player_id", entry.PlayerID,
			"error", err,
		)
	}
}

// sendReport delivers the consolidated group report. Tasks are already
// done, so a delivery failure is only logged: a lost report never causes
// reprocessing.
func (c *Coordinator) sendReport(ctx context.Context, logger *slog.Logger, report *types.BatchReport) {
	if report.Total() == 0 {
		logger.InfoContext(ctx, "no finalized outcomes in group, skipping report")
		return
	}
	if report.ChannelID == 0 {
		logger.WarnContext(ctx, "group has no reply channel, report dropped")
		return
	}

	text := FormatReport(report.Code, report.Successes, report.Failures, c.reportLimit)
	content := "```\n" + text + "\n```"

	if err := c.sender.Send(ctx, report.ChannelID, content); err != nil {
		logger.ErrorContext(ctx, "failed to deliver batch report",
			"channel_id", report.ChannelID,
			"error", err,
		)
		return
	}

	logger.InfoContext(ctx, "batch report delivered",
		"channel_id", report.ChannelID,
		"success_count", len(report.Successes),
		"failure_count", len(report.Failures),
	)
}

// failureReason maps a runner error to the per-player reason string recorded
// on the task and shown in the report.
func failureReason(err error) string {
	switch types.CodeOf(err) {
	case types.ErrCodeRunnerTimeout:
		return "Timeout"
	default:
		return err.Error()
	}
}

// truncateForLog bounds raw runner output in log lines.
func truncateForLog(s string) string {
	const max = 256
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
