package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"guildpost/internal/types"
)

// RedeemTaskRepository provides data access for the redeem_tasks table.
// Tasks move pending -> done exactly once and are never deleted; done rows
// with their result payloads are the audit trail.
type RedeemTaskRepository struct {
	db DBTX
}

// NewRedeemTaskRepository creates a RedeemTaskRepository backed by the given
// connection (pool or transaction).
func NewRedeemTaskRepository(db DBTX) *RedeemTaskRepository {
	return &RedeemTaskRepository{db: db}
}

// taskColumns is the canonical select list for redeem_tasks scans.
const taskColumns = `id, code, player_id, channel_id, status, batch_id, result, completed_at, created_at`

// CreateBatch inserts one task per player. Callers that need the batch to
// become visible to the poller atomically should construct the repository
// over a pgx.Tx rather than the pool.
func (r *RedeemTaskRepository) CreateBatch(ctx context.Context, tasks []*types.RedeemTask) error {
	for _, t := range tasks {
		row := r.db.QueryRow(ctx,
			`INSERT INTO redeem_tasks (code, player_id, channel_id, status, batch_id)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			t.Code,
			t.PlayerID,
			t.ChannelID,
			string(types.TaskPending),
			nilIfEmpty(t.BatchID),
		)
		if err := row.Scan(&t.ID, &t.CreatedAt); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to create redeem task", err)
		}
		t.Status = types.TaskPending
	}
	return nil
}

// ListPending returns all tasks still awaiting a runner attempt, oldest
// first so batches are processed roughly in submission order.
func (r *RedeemTaskRepository) ListPending(ctx context.Context) ([]*types.RedeemTask, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM redeem_tasks
		 WHERE status = $1
		 ORDER BY created_at`,
		string(types.TaskPending),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query pending redeem tasks", err)
	}
	defer rows.Close()

	var tasks []*types.RedeemTask
	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan redeem task row", scanErr)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating redeem task rows", err)
	}

	return tasks, nil
}

// MarkDone transitions a task pending -> done with the raw result payload
// and completion timestamp. The update is conditional on the task still
// being pending (claim pattern), so a task observed by two passes is only
// finalized once. Returns true if this call claimed the transition.
func (r *RedeemTaskRepository) MarkDone(ctx context.Context, id string, result string, completedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE redeem_tasks
		 SET status = $1, result = $2, completed_at = $3
		 WHERE id = $4 AND status = $5`,
		string(types.TaskDone),
		result,
		completedAt.UTC(),
		id,
		string(types.TaskPending),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark redeem task done", err)
	}
	return tag.RowsAffected() > 0, nil
}

// scanTask hydrates one redeem_tasks row from the canonical column list.
func scanTask(rows pgx.Rows) (*types.RedeemTask, error) {
	var (
		t           types.RedeemTask
		status      string
		batchID     *string
		result      *string
		completedAt *time.Time
	)
	if err := rows.Scan(&t.ID, &t.Code, &t.PlayerID, &t.ChannelID, &status, &batchID, &result, &completedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Status = types.TaskStatus(status)
	if batchID != nil {
		t.BatchID = *batchID
	}
	if result != nil {
		t.Result = *result
	}
	t.CompletedAt = completedAt
	return &t, nil
}

// nilIfEmpty maps an empty string to NULL for optional text columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RedeemLogRepository appends audit entries to the redeem_logs table. The
// table is write-only from the worker's perspective.
type RedeemLogRepository struct {
	db DBTX
}

// NewRedeemLogRepository creates a RedeemLogRepository backed by the given
// connection.
func NewRedeemLogRepository(db DBTX) *RedeemLogRepository {
	return &RedeemLogRepository{db: db}
}

// Append writes one audit row for a runner outcome.
func (r *RedeemLogRepository) Append(ctx context.Context, entry *types.RedeemLog) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO redeem_logs (batch_id, code, player_id, result, reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.BatchID,
		entry.Code,
		entry.PlayerID,
		entry.Result,
		nilIfEmpty(entry.Reason),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append redeem log", err)
	}
	return nil
}
