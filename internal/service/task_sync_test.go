package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTaskService_CompletionScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	T := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.tasks.now = func() time.Time { return T.Add(-time.Minute) }

	task, err := f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "Give medicine", ScheduledAt: T})
	require.NoError(t, err)
	assert.False(t, task.Done)
	assert.Equal(t, f.patient.AccountID, task.PatientID)

	sub, err := f.tasks.Subscribe(ctx, f.caretaker)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	first := nextSnapshot(t, sub)
	require.Len(t, first.Tasks, 1)
	assert.Nil(t, first.Completed)

	// 未到 scheduledAt：不做修改
	res, err := f.tasks.SetDone(ctx, f.patient, task.TaskID)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.False(t, res.Task.Done)
	stored, err := f.tasksRepo.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.False(t, stored.Done)

	f.tasks.now = func() time.Time { return T.Add(time.Minute) }
	res, err = f.tasks.SetDone(ctx, f.patient, task.TaskID)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.Task.Done)

	snap := nextSnapshot(t, sub)
	require.NotNil(t, snap.Completed)
	assert.Equal(t, task.TaskID, snap.Completed.TaskID)
	assert.True(t, snap.Tasks[0].Done)
	assert.Equal(t, 1, f.notifier.count())
}

func TestTaskService_CreateIgnoresDoneFlag(t *testing.T) {
	f := newFixture(t)

	task, err := f.tasks.Create(context.Background(), f.caretaker, CreateTaskRequest{
		Name:        "Walk",
		ScheduledAt: time.Now().Add(time.Hour),
		Done:        true,
	})
	require.NoError(t, err)
	assert.False(t, task.Done)

	stored, err := f.tasksRepo.GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.False(t, stored.Done)
}

func TestTaskService_UpdateKeepsDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tasks.now = func() time.Time { return time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC) }

	task, err := f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{
		Name:        "Pills",
		Description: "after breakfast",
		ScheduledAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = f.tasks.SetDone(ctx, f.patient, task.TaskID)
	require.NoError(t, err)

	name := "Evening pills"
	at := time.Date(2026, 5, 3, 20, 0, 0, 0, time.UTC)
	updated, err := f.tasks.Update(ctx, f.caretaker, task.TaskID, domain.TaskPatch{Name: &name, ScheduledAt: &at})
	require.NoError(t, err)
	assert.True(t, updated.Done)
	assert.Equal(t, "after breakfast", updated.Description)

	stored, err := f.tasksRepo.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.True(t, stored.Done)
	assert.Equal(t, "Evening pills", stored.Name)
	assert.True(t, stored.ScheduledAt.Equal(at))
}

func TestTaskService_SetDoneTogglesBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "Pills", ScheduledAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	res, err := f.tasks.SetDone(ctx, f.patient, task.TaskID)
	require.NoError(t, err)
	assert.True(t, res.Task.Done)

	res, err = f.tasks.SetDone(ctx, f.patient, task.TaskID)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.False(t, res.Task.Done)
	// 只在 Pending -> Done 时推送
	assert.Equal(t, 1, f.notifier.count())
}

func TestTaskService_RoleChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tasks.Create(ctx, f.patient, CreateTaskRequest{Name: "x", ScheduledAt: time.Now()})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: " ", ScheduledAt: time.Now()})
	assert.ErrorIs(t, err, ErrValidation)

	task, err := f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "Pills", ScheduledAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)

	_, err = f.tasks.SetDone(ctx, f.caretaker, task.TaskID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.tasks.Subscribe(ctx, f.admin)
	assert.ErrorIs(t, err, ErrForbidden)

	other := &domain.Session{AccountID: "someone-else", Role: domain.RolePatient}
	_, err = f.tasks.SetDone(ctx, other, task.TaskID)
	assert.ErrorIs(t, err, ErrForbidden)

	err = f.tasks.Delete(ctx, f.caretaker, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.tasks.Delete(ctx, f.caretaker, task.TaskID))
	tasks, err := f.tasks.List(ctx, f.patient)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTaskService_OneCompletionPerBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Hour)
	t1, err := f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "first", ScheduledAt: base})
	require.NoError(t, err)
	t2, err := f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "second", ScheduledAt: base.Add(time.Minute)})
	require.NoError(t, err)

	sub, err := f.tasks.Subscribe(ctx, f.caretaker)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	nextSnapshot(t, sub)

	// 两个任务在同一批次内完成
	require.NoError(t, f.tasksRepo.SetTaskDone(ctx, t1.TaskID, true))
	require.NoError(t, f.tasksRepo.SetTaskDone(ctx, t2.TaskID, true))
	require.NoError(t, f.feed.Publish(ctx, domain.TaskChange{Kind: domain.TaskChangeDone, TaskID: t1.TaskID, PatientID: t1.PatientID}))
	require.NoError(t, f.feed.Publish(ctx, domain.TaskChange{Kind: domain.TaskChangeDone, TaskID: t2.TaskID, PatientID: t2.PatientID}))

	snap := nextSnapshot(t, sub)
	require.NotNil(t, snap.Completed)
	assert.Equal(t, t1.TaskID, snap.Completed.TaskID)

	// 第二条变更若单独投递，两者均已知为 Done，不再发出完成事件
	select {
	case more, ok := <-sub.Events():
		if ok {
			assert.Nil(t, more.Completed)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTaskService_UnsubscribeClosesAndLeaksNothing(t *testing.T) {
	ignore := goleak.IgnoreCurrent()
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.tasks.Subscribe(ctx, f.patient)
	require.NoError(t, err)
	nextSnapshot(t, sub)

	sub.Unsubscribe()
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.NoError(t, sub.Err())

	// 取消后的写操作不会投递
	_, err = f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "late", ScheduledAt: time.Now()})
	require.NoError(t, err)
	sub.Unsubscribe()

	goleak.VerifyNone(t, ignore)
}

func TestTaskService_ContextCancelEndsSubscription(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := f.tasks.Subscribe(ctx, f.caretaker)
	require.NoError(t, err)
	nextSnapshot(t, sub)
	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close after cancel")
	}
}

func TestTaskService_UnassignedCaretakerGetsEmptySets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "Pills", ScheduledAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, f.assignments.SetAssignment(ctx, f.admin, f.caretaker.AccountID, nil))
	_, ok, err := f.assignments.ResolveAssignment(ctx, f.caretaker.AccountID)
	require.NoError(t, err)
	assert.False(t, ok)

	tasks, err := f.tasks.List(ctx, f.caretaker)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	sub, err := f.tasks.Subscribe(ctx, f.caretaker)
	require.NoError(t, err)
	snap := nextSnapshot(t, sub)
	assert.Empty(t, snap.Tasks)
	_, open := <-sub.Events()
	assert.False(t, open)
	sub.Unsubscribe()

	day, err := f.ledger.ListForDate(ctx, f.caretaker, "2024-01-01")
	require.NoError(t, err)
	assert.Empty(t, day.Recites)

	_, err = f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "x", ScheduledAt: time.Now()})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestTaskService_SubscriptionEndsWhenCaretakerUnassigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "Walk", ScheduledAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	sub, err := f.tasks.Subscribe(ctx, f.caretaker)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	first := nextSnapshot(t, sub)
	require.Len(t, first.Tasks, 1)

	require.NoError(t, f.assignments.SetAssignment(ctx, f.admin, f.caretaker.AccountID, nil))

	res, err := f.tasks.SetDone(ctx, f.patient, task.TaskID)
	require.NoError(t, err)
	require.True(t, res.Applied)

	// 前 patient 的任务与完成事件不再投递
	snap := nextSnapshot(t, sub)
	assert.Empty(t, snap.Tasks)
	assert.Nil(t, snap.Completed)

	select {
	case _, open := <-sub.Events():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close after unassignment")
	}
	assert.ErrorIs(t, sub.Err(), ErrForbidden)
}

func TestTaskService_PatientSubscriptionUnaffectedByAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "Read", ScheduledAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	sub, err := f.tasks.Subscribe(ctx, f.patient)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	nextSnapshot(t, sub)

	require.NoError(t, f.assignments.SetAssignment(ctx, f.admin, f.caretaker.AccountID, nil))
	_, err = f.tasks.SetDone(ctx, f.patient, task.TaskID)
	require.NoError(t, err)

	snap := nextSnapshot(t, sub)
	require.NotNil(t, snap.Completed)
	assert.Equal(t, task.TaskID, snap.Completed.TaskID)
	assert.NoError(t, sub.Err())
}

// flakyFeed 前 failures 次 Read 返回错误
type flakyFeed struct {
	store.TaskFeed
	mu       sync.Mutex
	failures int
	reads    int
}

func (f *flakyFeed) Read(ctx context.Context, patientID, afterID string) ([]store.FeedEntry, error) {
	f.mu.Lock()
	f.reads++
	fail := f.reads <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return f.TaskFeed.Read(ctx, patientID, afterID)
}

func (f *flakyFeed) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func TestTaskService_ResubscribesAfterTransientErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	feed := &flakyFeed{TaskFeed: f.feed, failures: 2}
	f.tasks.feed = feed

	task, err := f.tasks.Create(ctx, f.caretaker, CreateTaskRequest{Name: "Pills", ScheduledAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)

	sub, err := f.tasks.Subscribe(ctx, f.caretaker)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	nextSnapshot(t, sub)

	_, err = f.tasks.SetDone(ctx, f.patient, task.TaskID)
	require.NoError(t, err)

	snap := nextSnapshot(t, sub)
	require.NotNil(t, snap.Completed)
	assert.Equal(t, task.TaskID, snap.Completed.TaskID)
	assert.GreaterOrEqual(t, feed.readCount(), 3)
	assert.NoError(t, sub.Err())
}

func TestTaskService_GivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	feed := &flakyFeed{TaskFeed: f.feed, failures: 1000}
	f.tasks.feed = feed

	sub, err := f.tasks.Subscribe(context.Background(), f.caretaker)
	require.NoError(t, err)
	nextSnapshot(t, sub)

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not give up")
	}
	assert.ErrorIs(t, sub.Err(), ErrUpstream)
	// MaxRetries=2：首次失败 + 2 次重试
	assert.Equal(t, 3, feed.readCount())
	sub.Unsubscribe()
}

func TestDetectCompletion(t *testing.T) {
	prev := map[string]bool{"a": false, "b": true, "c": false}
	tasks := []domain.Task{
		{TaskID: "b", Done: true},
		{TaskID: "new", Done: true},
		{TaskID: "c", Done: true},
		{TaskID: "a", Done: true},
	}
	got := detectCompletion(prev, tasks)
	require.NotNil(t, got)
	assert.Equal(t, "c", got.TaskID)

	assert.Nil(t, detectCompletion(doneFlags(tasks), tasks))
}
