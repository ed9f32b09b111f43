// Package notify implements the reminder dispatch poller. Each pass scans
// the notifications collection for reminders due inside a bounded time
// window around "now", sends each one to its channel, and deletes the ones
// that were delivered. Reminders that fail to send stay in place and are
// retried on the next pass.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"guildpost/internal/discord"
	"guildpost/internal/types"
)

// MessagePrefix is prepended to every reminder message.
const MessagePrefix = "⏰ 活動提醒 ⏰"

// ReminderStore abstracts the reminder queries the dispatcher needs.
type ReminderStore interface {
	// ListDue returns reminders with fire_at in [from, to].
	ListDue(ctx context.Context, from, to time.Time) ([]*types.Reminder, error)
	// Delete removes a delivered reminder. Deleting a missing id is a no-op.
	Delete(ctx context.Context, id string) error
}

// DispatcherConfig holds the tunables for a Dispatcher.
type DispatcherConfig struct {
	// Lookback must be at least the poll interval so a due reminder is seen
	// by at least one pass even if the process pauses briefly. Reminders
	// older than the lookback on every pass are stranded and never sent.
	Lookback time.Duration
	// Lookahead absorbs clock and scheduling jitter.
	Lookahead time.Duration

	Store    ReminderStore
	Resolver discord.ChannelResolver
	Sender   discord.MessageSender
	Logger   *slog.Logger

	// AuditChannelID, when non-zero, receives a best-effort audit line for
	// every delivered reminder.
	AuditChannelID int64

	// Now is the clock source, overridable in tests. Defaults to UTC now.
	Now func() time.Time
}

// Dispatcher is the reminder polling loop body.
type Dispatcher struct {
	lookback       time.Duration
	lookahead      time.Duration
	store          ReminderStore
	resolver       discord.ChannelResolver
	sender         discord.MessageSender
	logger         *slog.Logger
	auditChannelID int64
	now            func() time.Time
}

// NewDispatcher creates a Dispatcher from the given configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{
		lookback:       cfg.Lookback,
		lookahead:      cfg.Lookahead,
		store:          cfg.Store,
		resolver:       cfg.Resolver,
		sender:         cfg.Sender,
		logger:         logger,
		auditChannelID: cfg.AuditChannelID,
		now:            now,
	}
}

// RunOnce performs one complete poll pass: query the due window, send each
// match independently, delete delivered reminders. A failure on one reminder
// never prevents processing of the others; only a store-level query failure
// aborts the pass.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	now := d.now()
	from := now.Add(-d.lookback)
	to := now.Add(d.lookahead)

	due, err := d.store.ListDue(ctx, from, to)
	if err != nil {
		return fmt.Errorf("notify: querying due reminders: %w", err)
	}

	if len(due) == 0 {
		return nil
	}

	d.logger.InfoContext(ctx, "reminders due",
		"count", len(due),
		"window_from", from.Format(time.RFC3339),
		"window_to", to.Format(time.RFC3339),
	)

	for _, rem := range due {
		d.dispatch(ctx, rem)
	}

	return nil
}

// dispatch sends one reminder and deletes it on success. All failures are
// logged and leave the reminder in place for the next pass: unbounded
// retries, no backoff, no dead-lettering. At-least-once delivery is the
// accepted contract; a reminder whose delete failed will be resent.
func (d *Dispatcher) dispatch(ctx context.Context, rem *types.Reminder) {
	logger := d.logger.With(
		"reminder_id", rem.ID,
		"guild_id", rem.GuildID,
		"channel_id", rem.ChannelID,
		"fire_at", rem.FireAt.Format(time.RFC3339),
	)

	if _, err := d.resolver.ResolveChannel(ctx, rem.ChannelID); err != nil {
		logger.ErrorContext(ctx, "channel resolution failed, reminder left for retry",
			"error", err,
		)
		return
	}

	if err := d.sender.Send(ctx, rem.ChannelID, Compose(rem.Mention, rem.Message)); err != nil {
		logger.ErrorContext(ctx, "reminder send failed, reminder left for retry",
			"error", err,
		)
		return
	}

	if err := d.store.Delete(ctx, rem.ID); err != nil {
		// Already sent; the reminder will be resent next pass.
		logger.ErrorContext(ctx, "delivered reminder could not be deleted, duplicate send likely",
			"error", err,
		)
		return
	}

	logger.InfoContext(ctx, "reminder delivered")
	d.audit(ctx, logger, rem)
}

// audit mirrors a delivery record into the guild's log channel. Failures are
// logged and swallowed; the audit mirror never affects dispatch.
func (d *Dispatcher) audit(ctx context.Context, logger *slog.Logger, rem *types.Reminder) {
	if d.auditChannelID == 0 {
		return
	}
	line := fmt.Sprintf("📝 [`%s`] 已發送提醒至 <#%d>：%s",
		d.now().Format("2006-01-02 15:04:05"), rem.ChannelID, rem.Message)
	if err := d.sender.Send(ctx, d.auditChannelID, line); err != nil {
		logger.WarnContext(ctx, "audit mirror send failed", "error", err)
	}
}

// Compose builds the channel message text: the mention on its own line when
// present, then the prefix and message.
func Compose(mention, message string) string {
	if mention != "" {
		return mention + "\n" + MessagePrefix + message
	}
	return MessagePrefix + message
}
