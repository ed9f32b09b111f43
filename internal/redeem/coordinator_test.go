package redeem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildpost/internal/types"
)

// mockTaskStore is an in-memory TaskStore.
type mockTaskStore struct {
	mu      sync.Mutex
	tasks   []*types.RedeemTask
	listErr error
	markErr error
}

func (m *mockTaskStore) ListPending(_ context.Context) ([]*types.RedeemTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var pending []*types.RedeemTask
	for _, t := range m.tasks {
		if t.Status == types.TaskPending {
			copied := *t
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (m *mockTaskStore) MarkDone(_ context.Context, id string, result string, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return false, m.markErr
	}
	for _, t := range m.tasks {
		if t.ID == id {
			if t.Status == types.TaskDone {
				return false, nil
			}
			t.Status = types.TaskDone
			t.Result = result
			at := completedAt
			t.CompletedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTaskStore) get(id string) *types.RedeemTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// mockAudit records audit entries.
type mockAudit struct {
	mu      sync.Mutex
	entries []*types.RedeemLog
	err     error
}

func (m *mockAudit) Append(_ context.Context, entry *types.RedeemLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

// mockRunner scripts per-player outcomes.
type mockRunner struct {
	mu      sync.Mutex
	outputs map[string]string // player_id -> stdout
	errs    map[string]error  // player_id -> invocation error
	block   map[string]bool   // player_id -> block until ctx deadline
	batches []string          // batch IDs observed
}

func (m *mockRunner) Run(ctx context.Context, code, playerID, batchID string) (string, error) {
	m.mu.Lock()
	m.batches = append(m.batches, batchID)
	blocked := m.block[playerID]
	out, err := m.outputs[playerID], m.errs[playerID]
	m.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return "", types.NewAppError(types.ErrCodeRunnerTimeout, "deadline exceeded", ctx.Err())
	}
	if err != nil {
		return "", err
	}
	return out, nil
}

// mockSender records sends.
type mockSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

type sentMessage struct {
	channelID int64
	content   string
}

func (m *mockSender) Send(_ context.Context, channelID int64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, content: content})
	return nil
}

func successJSON(playerID string) string {
	return fmt.Sprintf(`{"success": [["%s", "Success"]], "failure": []}`, playerID)
}

func failureJSON(playerID, reason string) string {
	return fmt.Sprintf(`{"success": [], "failure": [["%s", "%s"]]}`, playerID, reason)
}

func newTestCoordinator(store *mockTaskStore, runner *mockRunner, sender *mockSender, audit *mockAudit) *Coordinator {
	return NewCoordinator(CoordinatorConfig{
		Store:         store,
		Audit:         audit,
		Runner:        runner,
		Sender:        sender,
		RunnerTimeout: 50 * time.Millisecond,
		Concurrency:   2,
		ReportLimit:   DefaultReportLimit,
	})
}

func TestCoordinator_BatchCompleteness(t *testing.T) {
	store := &mockTaskStore{tasks: []*types.RedeemTask{
		{ID: "task_1", Code: "CODE1", PlayerID: "111111111", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
		{ID: "task_2", Code: "CODE1", PlayerID: "222222222", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
		{ID: "task_3", Code: "CODE1", PlayerID: "333333333", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
	}}
	runner := &mockRunner{outputs: map[string]string{
		"111111111": successJSON("111111111"),
		"222222222": successJSON("222222222"),
		"333333333": failureJSON("333333333", "Invalid Code"),
	}}
	sender := &mockSender{}
	c := newTestCoordinator(store, runner, sender, &mockAudit{})

	require.NoError(t, c.RunOnce(context.Background()))

	for _, id := range []string{"task_1", "task_2", "task_3"} {
		task := store.get(id)
		assert.Equal(t, types.TaskDone, task.Status, "task %s must be done", id)
		assert.NotNil(t, task.CompletedAt)
	}

	require.Len(t, sender.sent, 1, "exactly one report per batch")
	report := sender.sent[0].content
	assert.Contains(t, report, "Success: 2 player(s)")
	assert.Contains(t, report, "Failed: 1 player(s)")
	assert.Contains(t, report, "333333333 -> Failed, Invalid Code")
}

func TestCoordinator_MixedOutcomeReport(t *testing.T) {
	store := &mockTaskStore{tasks: []*types.RedeemTask{
		{ID: "task_1", Code: "CODE1", PlayerID: "111111111", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
		{ID: "task_2", Code: "CODE1", PlayerID: "222222222", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
	}}
	runner := &mockRunner{outputs: map[string]string{
		"111111111": successJSON("111111111"),
		"222222222": failureJSON("222222222", "Invalid Code"),
	}}
	sender := &mockSender{}
	c := newTestCoordinator(store, runner, sender, &mockAudit{})

	require.NoError(t, c.RunOnce(context.Background()))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].channelID)
	assert.Contains(t, sender.sent[0].content, "Success: 1 player(s)")
	assert.Contains(t, sender.sent[0].content, " - 111111111 -> Success")
	assert.Contains(t, sender.sent[0].content, "Failed: 1 player(s)")
	assert.Contains(t, sender.sent[0].content, " - 222222222 -> Failed, Invalid Code")
}

func TestCoordinator_FailureIsolation(t *testing.T) {
	store := &mockTaskStore{tasks: []*types.RedeemTask{
		{ID: "task_1", Code: "CODE1", PlayerID: "111111111", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
		{ID: "task_2", Code: "CODE1", PlayerID: "222222222", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
		{ID: "task_3", Code: "CODE1", PlayerID: "333333333", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
	}}
	runner := &mockRunner{
		outputs: map[string]string{
			"222222222": successJSON("222222222"),
			"333333333": successJSON("333333333"),
		},
		errs: map[string]error{
			"111111111": errors.New("browser crashed on startup"),
		},
	}
	sender := &mockSender{}
	c := newTestCoordinator(store, runner, sender, &mockAudit{})

	require.NoError(t, c.RunOnce(context.Background()))

	for _, id := range []string{"task_1", "task_2", "task_3"} {
		assert.Equal(t, types.TaskDone, store.get(id).Status)
	}
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].content, "Success: 2 player(s)")
	assert.Contains(t, sender.sent[0].content, "Failed: 1 player(s)")
	assert.Contains(t, sender.sent[0].content, "browser crashed on startup")
}

func TestCoordinator_TimeoutClassification(t *testing.T) {
	store := &mockTaskStore{tasks: []*types.RedeemTask{
		{ID: "task_1", Code: "SOLO99", PlayerID: "111111111", ChannelID: 77, Status: types.TaskPending},
	}}
	runner := &mockRunner{block: map[string]bool{"111111111": true}}
	sender := &mockSender{}
	c := newTestCoordinator(store, runner, sender, &mockAudit{})

	require.NoError(t, c.RunOnce(context.Background()))

	task := store.get("task_1")
	assert.Equal(t, types.TaskDone, task.Status)
	require.NotNil(t, task.CompletedAt)
	assert.Contains(t, task.Result, "Timeout")

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].content, "Failed: 1 player(s)")
	assert.Contains(t, sender.sent[0].content, " - 111111111 -> Failed, Timeout")
}

func TestCoordinator_SoloTasksGetOwnReports(t *testing.T) {
	store := &mockTaskStore{tasks: []*types.RedeemTask{
		{ID: "task_1", Code: "AAA", PlayerID: "111111111", ChannelID: 10, Status: types.TaskPending},
		{ID: "task_2", Code: "BBB", PlayerID: "222222222", ChannelID: 20, Status: types.TaskPending},
	}}
	runner := &mockRunner{outputs: map[string]string{
		"111111111": successJSON("111111111"),
		"222222222": successJSON("222222222"),
	}}
	sender := &mockSender{}
	c := newTestCoordinator(store, runner, sender, &mockAudit{})

	require.NoError(t, c.RunOnce(context.Background()))

	require.Len(t, sender.sent, 2, "each solo task reports separately")
	channels := []int64{sender.sent[0].channelID, sender.sent[1].channelID}
	assert.ElementsMatch(t, []int64{10, 20}, channels)

	// Solo tasks run under generated sentinel batch IDs, never the empty string.
	for _, b := range runner.batches {
		assert.True(t, strings.HasPrefix(b, "solo_"), "got batch id %q", b)
	}
}

func TestCoordinator_MalformedOutputIsPlayerFailure(t *testing.T) {
	store := &mockTaskStore{tasks: []*types.RedeemTask{
		{ID: "task_1", Code: "CODE1", PlayerID: "111111111", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
	}}
	runner := &mockRunner{outputs: map[string]string{
		"111111111": "Traceback (most recent call last): ...",
	}}
	sender := &mockSender{}
	c := newTestCoordinator(store, runner, sender, &mockAudit{})

	require.NoError(t, c.RunOnce(context.Background()))

	task := store.get("task_1")
	assert.Equal(t, types.TaskDone, task.Status)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].content, "Failed: 1 player(s)")
}

func TestCoordinator_ReportFailureDoesNotReprocess(t *testing.T) {
	store := &mockTaskStore{tasks: []*types.RedeemTask{
		{ID: "task_1", Code: "CODE1", PlayerID: "111111111", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
	}}
	runner := &mockRunner{outputs: map[string]string{"111111111": successJSON("111111111")}}
	sender := &mockSender{err: errors.New("discord is down")}
	c := newTestCoordinator(store, runner, sender, &mockAudit{})

	require.NoError(t, c.RunOnce(context.Background()))
	assert.Equal(t, types.TaskDone, store.get("task_1").Status)

	// A second pass finds nothing pending: the lost report is not retried.
	require.NoError(t, c.RunOnce(context.Background()))
	assert.Len(t, runner.batches, 1, "task must not be re-run after report failure")
}

func TestCoordinator_MarkDoneFailureLeavesTaskPending(t *testing.T) {
	store := &mockTaskStore{
		tasks: []*types.RedeemTask{
			{ID: "task_1", Code: "CODE1", PlayerID: "111111111", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
		},
		markErr: errors.New("store unavailable"),
	}
	runner := &mockRunner{outputs: map[string]string{"111111111": successJSON("111111111")}}
	sender := &mockSender{}
	c := newTestCoordinator(store, runner, sender, &mockAudit{})

	require.NoError(t, c.RunOnce(context.Background()))

	assert.Equal(t, types.TaskPending, store.get("task_1").Status)
	assert.Empty(t, sender.sent, "unfinalized outcome must not be reported")
}

func TestCoordinator_IndependentBatches(t *testing.T) {
	store := &mockTaskStore{tasks: []*types.RedeemTask{
		{ID: "task_1", Code: "AAA", PlayerID: "111111111", ChannelID: 10, Status: types.TaskPending, BatchID: "batch_a"},
		{ID: "task_2", Code: "BBB", PlayerID: "222222222", ChannelID: 20, Status: types.TaskPending, BatchID: "batch_b"},
	}}
	runner := &mockRunner{
		outputs: map[string]string{"222222222": successJSON("222222222")},
		errs:    map[string]error{"111111111": errors.New("runner exploded")},
	}
	sender := &mockSender{}
	c := newTestCoordinator(store, runner, sender, &mockAudit{})

	require.NoError(t, c.RunOnce(context.Background()))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, types.TaskDone, store.get("task_1").Status)
	assert.Equal(t, types.TaskDone, store.get("task_2").Status)
}

func TestCoordinator_AuditEntriesWritten(t *testing.T) {
	store := &mockTaskStore{tasks: []*types.RedeemTask{
		{ID: "task_1", Code: "CODE1", PlayerID: "111111111", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
		{ID: "task_2", Code: "CODE1", PlayerID: "222222222", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
	}}
	runner := &mockRunner{outputs: map[string]string{
		"111111111": successJSON("111111111"),
		"222222222": failureJSON("222222222", "Invalid Code"),
	}}
	audit := &mockAudit{}
	c := newTestCoordinator(store, runner, &mockSender{}, audit)

	require.NoError(t, c.RunOnce(context.Background()))

	require.Len(t, audit.entries, 2)
	byPlayer := map[string]*types.RedeemLog{}
	for _, e := range audit.entries {
		byPlayer[e.PlayerID] = e
	}
	assert.Equal(t, "success", byPlayer["111111111"].Result)
	assert.Equal(t, "failure", byPlayer["222222222"].Result)
	assert.Equal(t, "Invalid Code", byPlayer["222222222"].Reason)
}

func TestCoordinator_AuditFailureIsNonFatal(t *testing.T) {
	store := &mockTaskStore{tasks: []*types.RedeemTask{
		{ID: "task_1", Code: "CODE1", PlayerID: "111111111", ChannelID: 42, Status: types.TaskPending, BatchID: "batch_a"},
	}}
	runner := &mockRunner{outputs: map[string]string{"111111111": successJSON("111111111")}}
	sender := &mockSender{}
	c := newTestCoordinator(store, runner, sender, &mockAudit{err: errors.New("logs table missing")})

	require.NoError(t, c.RunOnce(context.Background()))
	assert.Equal(t, types.TaskDone, store.get("task_1").Status)
	assert.Len(t, sender.sent, 1)
}

func TestCoordinator_EmptyPassIsQuiet(t *testing.T) {
	store := &mockTaskStore{}
	sender := &mockSender{}
	c := newTestCoordinator(store, &mockRunner{}, sender, &mockAudit{})

	require.NoError(t, c.RunOnce(context.Background()))
	assert.Empty(t, sender.sent)
}

func TestCoordinator_StoreQueryFailureAbortsPass(t *testing.T) {
	store := &mockTaskStore{listErr: errors.New("store down")}
	c := newTestCoordinator(store, &mockRunner{}, &mockSender{}, &mockAudit{})

	require.Error(t, c.RunOnce(context.Background()))
}

func TestGroupTasks(t *testing.T) {
	tasks := []*types.RedeemTask{
		{ID: "t1", BatchID: "a"},
		{ID: "t2", BatchID: "b"},
		{ID: "t3", BatchID: "a"},
		{ID: "t4"},
		{ID: "t5"},
	}

	groups := groupTasks(tasks)
	require.Len(t, groups, 4, "two named batches plus two solo singletons")

	sizes := map[string]int{}
	for _, g := range groups {
		sizes[g.batchID] = len(g.tasks)
	}
	assert.Equal(t, 2, sizes["a"])
	assert.Equal(t, 1, sizes["b"])
}
