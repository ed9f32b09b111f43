package db

import (
	"context"
	"time"

	"guildpost/internal/types"
)

// ReminderRepository provides data access for the notifications table. The
// table holds only pending reminders; delivery deletes the row.
type ReminderRepository struct {
	db DBTX
}

// NewReminderRepository creates a ReminderRepository backed by the given
// connection (pool or transaction).
func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Create inserts a new reminder. The database assigns the ID.
func (r *ReminderRepository) Create(ctx context.Context, rem *types.Reminder) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO notifications (guild_id, channel_id, fire_at, mention, message)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		rem.GuildID,
		rem.ChannelID,
		rem.FireAt.UTC(),
		rem.Mention,
		rem.Message,
	)
	if err := row.Scan(&rem.ID, &rem.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create reminder", err)
	}
	return nil
}

// ListDue returns all reminders whose fire_at falls within [from, to],
// inclusive on both bounds. Ordered by fire_at so earlier reminders are
// attempted first within a pass; callers must not rely on this order.
func (r *ReminderRepository) ListDue(ctx context.Context, from, to time.Time) ([]*types.Reminder, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, guild_id, channel_id, fire_at, mention, message, created_at
		 FROM notifications
		 WHERE fire_at >= $1 AND fire_at <= $2
		 ORDER BY fire_at`,
		from.UTC(),
		to.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due reminders", err)
	}
	defer rows.Close()

	var reminders []*types.Reminder
	for rows.Next() {
		var rem types.Reminder
		if err := rows.Scan(&rem.ID, &rem.GuildID, &rem.ChannelID, &rem.FireAt, &rem.Mention, &rem.Message, &rem.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reminder row", err)
		}
		reminders = append(reminders, &rem)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reminder rows", err)
	}

	return reminders, nil
}

// Delete removes a reminder after delivery. Deleting an id that no longer
// exists is a no-op, not an error, to tolerate a send-then-crash race where
// the same reminder is picked up twice.
func (r *ReminderRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete reminder", err)
	}
	return nil
}
