package types

import (
	"time"
)

// TaskStatus is the lifecycle state of a RedeemTask. Tasks are created as
// pending and move to done exactly once; the transition never reverses.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
)

// Reminder is a scheduled one-shot message tied to a channel and fire time.
// The notifications table holds only pending reminders: a reminder that has
// been delivered is deleted, not archived.
type Reminder struct {
	ID        string    `json:"id" db:"id"`
	GuildID   string    `json:"guild_id" db:"guild_id"`
	ChannelID int64     `json:"channel_id" db:"channel_id"`
	FireAt    time.Time `json:"fire_at" db:"fire_at"`
	Mention   string    `json:"mention,omitempty" db:"mention"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RedeemTask is one player's unit of work within a gift-code redemption
// request. All tasks spawned from a single submission share a BatchID; a
// task submitted through the legacy solo path has an empty BatchID and is
// grouped on its own.
//
// Tasks are never deleted; a done task with its Result payload is the audit
// trail for the attempt.
type RedeemTask struct {
	ID          string     `json:"id" db:"id"`
	Code        string     `json:"code" db:"code"`
	PlayerID    string     `json:"player_id" db:"player_id"`
	ChannelID   int64      `json:"channel_id" db:"channel_id"`
	Status      TaskStatus `json:"status" db:"status"`
	BatchID     string     `json:"batch_id,omitempty" db:"batch_id"`
	Result      string     `json:"result,omitempty" db:"result"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// RedeemLog is an append-only audit entry recording the outcome of one
// runner invocation. Written best-effort; a failed audit write never affects
// task processing.
type RedeemLog struct {
	ID        string    `json:"id" db:"id"`
	BatchID   string    `json:"batch_id" db:"batch_id"`
	Code      string    `json:"code" db:"code"`
	PlayerID  string    `json:"player_id" db:"player_id"`
	Result    string    `json:"result" db:"result"`
	Reason    string    `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PlayerFailure pairs a player ID with the reason its redemption attempt
// failed, as reported by the runner or synthesized by the coordinator
// (e.g. "Timeout").
type PlayerFailure struct {
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason"`
}

// BatchReport is the in-memory aggregate for one batch of RedeemTasks
// observed during a single poll pass. It is never persisted; the formatter
// renders it into the consolidated channel message.
type BatchReport struct {
	BatchID   string
	Code      string
	ChannelID int64
	Successes []string
	Failures  []PlayerFailure
}

// Total returns the number of player outcomes captured in the report.
func (r *BatchReport) Total() int {
	return len(r.Successes) + len(r.Failures)
}

// Channel is the resolved chat channel a message can be delivered to.
type Channel struct {
	ID      int64  `json:"id,string"`
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
}
