package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/metrics"
	"github.com/Gil-rei/Senzen/internal/repository"
	"github.com/Gil-rei/Senzen/internal/store"

	"go.uber.org/zap"
)

// CompletionNotifier 任务由 Pending 变为 Done 后通知 caretaker
type CompletionNotifier interface {
	NotifyCompleted(ctx context.Context, task domain.Task, at time.Time) error
}

// TaskService 任务同步：订阅、读取与写操作，均按会话的 patient 范围生效
type TaskService interface {
	// Subscribe 建立对 patient 全部任务的持续订阅；每次投递都是完整快照
	Subscribe(ctx context.Context, sess *domain.Session) (*Subscription, error)
	List(ctx context.Context, sess *domain.Session) ([]domain.Task, error)
	Create(ctx context.Context, sess *domain.Session, req CreateTaskRequest) (*domain.Task, error)
	Update(ctx context.Context, sess *domain.Session, taskID string, patch domain.TaskPatch) (*domain.Task, error)
	// SetDone patient 切换完成状态；now < scheduledAt 时不做任何修改
	SetDone(ctx context.Context, sess *domain.Session, taskID string) (*SetDoneResponse, error)
	Delete(ctx context.Context, sess *domain.Session, taskID string) error
}

// TaskServiceOptions 订阅重试参数
type TaskServiceOptions struct {
	MaxRetries     int           // 连续失败超过该次数后订阅结束
	InitialBackoff time.Duration // 首次重试等待，之后翻倍
	MaxBackoff     time.Duration
}

// DefaultTaskServiceOptions 默认：1s 起步翻倍，上限 30s，最多 5 次
func DefaultTaskServiceOptions() TaskServiceOptions {
	return TaskServiceOptions{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// CreateTaskRequest 创建任务请求；Done 会被忽略
type CreateTaskRequest struct {
	Name        string
	Description string
	ScheduledAt time.Time
	Done        bool
}

// SetDoneResponse Applied=false 表示未到 scheduledAt，状态未变
type SetDoneResponse struct {
	Task    domain.Task `json:"task"`
	Applied bool        `json:"applied"`
}

// TaskSnapshot 一次投递：完整任务列表 + 本批次至多一个完成事件
type TaskSnapshot struct {
	Tasks     []domain.Task `json:"tasks"`
	Completed *domain.Task  `json:"completed,omitempty"`
}

// Subscription 可取消的快照流
// Unsubscribe 返回后不会再有任何投递，Events 通道已关闭
type Subscription struct {
	events chan TaskSnapshot
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{
		events: make(chan TaskSnapshot, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Subscription) Events() <-chan TaskSnapshot { return s.events }

// Unsubscribe 释放订阅并等待后台读取结束（可重复调用）
func (s *Subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

// Err 订阅因重试耗尽或分配变更而结束时返回原因
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Subscription) send(ctx context.Context, snap TaskSnapshot) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

type taskService struct {
	tasks       repository.TasksRepository
	assignments AssignmentService
	feed        store.TaskFeed
	notifier    CompletionNotifier
	opts        TaskServiceOptions
	logger      *zap.Logger
	now         func() time.Time
}

// NewTaskService 创建 TaskService 实例；notifier 可为 nil
func NewTaskService(
	tasks repository.TasksRepository,
	assignments AssignmentService,
	feed store.TaskFeed,
	notifier CompletionNotifier,
	opts TaskServiceOptions,
	logger *zap.Logger,
) TaskService {
	def := DefaultTaskServiceOptions()
	if opts.MaxRetries < 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = def.MaxBackoff
	}
	return &taskService{
		tasks:       tasks,
		assignments: assignments,
		feed:        feed,
		notifier:    notifier,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *taskService) Subscribe(ctx context.Context, sess *domain.Session) (*Subscription, error) {
	patientID, ok, err := patientScope(ctx, s.assignments, sess)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel)
	if !ok {
		// 未分配 patient：投递一个空快照后结束
		sub.events <- TaskSnapshot{Tasks: []domain.Task{}}
		close(sub.events)
		close(sub.done)
		return sub, nil
	}

	// 先记录变更流位置再读快照，两者之间的变更会在之后读到
	pos, err := s.feed.LastID(ctx, patientID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: task feed: %v", ErrUpstream, err)
	}
	initial, err := s.tasks.ListTasksByPatient(ctx, patientID)
	if err != nil {
		cancel()
		return nil, storeErr(err, "list tasks")
	}

	metrics.TaskSubscriptions.Inc()
	s.logger.Debug("Task subscription started",
		zap.String("account_id", sess.AccountID),
		zap.String("patient_id", patientID),
		zap.String("position", pos),
	)
	go s.watch(subCtx, sub, sess, patientID, pos, initial)
	return sub, nil
}

// watch 单生产者：读取变更批次，整批重新读取任务并计算差异后投递一次
// caretaker 每批次前重新确认分配关系；分配被取消或改变时投递空快照并以 ErrForbidden 结束
func (s *taskService) watch(ctx context.Context, sub *Subscription, sess *domain.Session, patientID, pos string, initial []domain.Task) {
	defer func() {
		metrics.TaskSubscriptions.Dec()
		close(sub.events)
		close(sub.done)
	}()

	prev := doneFlags(initial)
	if !sub.send(ctx, TaskSnapshot{Tasks: initial}) {
		return
	}

	backoff := s.opts.InitialBackoff
	failures := 0
	for {
		entries, err := s.feed.Read(ctx, patientID, pos)
		var tasks []domain.Task
		if err == nil && len(entries) > 0 {
			var assigned bool
			assigned, err = s.stillInScope(ctx, sess, patientID)
			if err == nil && !assigned {
				s.logger.Info("Task subscription ended: assignment changed",
					zap.String("account_id", sess.AccountID),
					zap.String("patient_id", patientID),
				)
				sub.setErr(forbiddenf("caretaker is no longer assigned to patient %s", patientID))
				sub.send(ctx, TaskSnapshot{Tasks: []domain.Task{}})
				return
			}
			if err == nil {
				tasks, err = s.tasks.ListTasksByPatient(ctx, patientID)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			metrics.TaskFeedErrors.WithLabelValues("read").Inc()
			if failures > s.opts.MaxRetries {
				s.logger.Error("Task subscription gave up",
					zap.String("patient_id", patientID),
					zap.Int("failures", failures),
					zap.Error(err),
				)
				sub.setErr(fmt.Errorf("%w: task feed: %v", ErrUpstream, err))
				return
			}
			s.logger.Warn("Task feed read failed, resubscribing",
				zap.String("patient_id", patientID),
				zap.Int("attempt", failures),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				backoff *= 2
				if backoff > s.opts.MaxBackoff {
					backoff = s.opts.MaxBackoff
				}
			}
			continue
		}

		failures = 0
		backoff = s.opts.InitialBackoff
		if len(entries) == 0 {
			continue
		}
		pos = entries[len(entries)-1].ID

		snap := TaskSnapshot{Tasks: tasks, Completed: detectCompletion(prev, tasks)}
		prev = doneFlags(tasks)
		if snap.Completed != nil {
			metrics.TaskCompletions.Inc()
		}
		if !sub.send(ctx, snap) {
			return
		}
	}
}

// stillInScope patient 会话始终可见；caretaker 需仍分配给同一 patient
func (s *taskService) stillInScope(ctx context.Context, sess *domain.Session, patientID string) (bool, error) {
	if sess.Role != domain.RoleCaretaker {
		return true, nil
	}
	current, ok, err := s.assignments.ResolveAssignment(ctx, sess.AccountID)
	if err != nil {
		return false, err
	}
	return ok && current == patientID, nil
}

func doneFlags(tasks []domain.Task) map[string]bool {
	flags := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		flags[t.TaskID] = t.Done
	}
	return flags
}

// detectCompletion 返回快照顺序中第一个由已知 Pending 变为 Done 的任务
func detectCompletion(prev map[string]bool, tasks []domain.Task) *domain.Task {
	for i := range tasks {
		wasDone, known := prev[tasks[i].TaskID]
		if known && !wasDone && tasks[i].Done {
			t := tasks[i]
			return &t
		}
	}
	return nil
}

func (s *taskService) List(ctx context.Context, sess *domain.Session) ([]domain.Task, error) {
	patientID, ok, err := patientScope(ctx, s.assignments, sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []domain.Task{}, nil
	}
	tasks, err := s.tasks.ListTasksByPatient(ctx, patientID)
	if err != nil {
		return nil, storeErr(err, "list tasks")
	}
	return tasks, nil
}

func (s *taskService) Create(ctx context.Context, sess *domain.Session, req CreateTaskRequest) (*domain.Task, error) {
	patientID, err := s.caretakerScope(ctx, sess)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationf("task name is required")
	}
	if req.ScheduledAt.IsZero() {
		return nil, validationf("scheduledAt is required")
	}

	task := &domain.Task{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		CaretakerID: sess.AccountID,
		PatientID:   patientID,
		ScheduledAt: req.ScheduledAt.UTC(),
		Done:        false,
	}
	if _, err := s.tasks.CreateTask(ctx, task); err != nil {
		s.logger.Error("Failed to create task", zap.String("patient_id", patientID), zap.Error(err))
		return nil, storeErr(err, "create task")
	}
	metrics.TaskMutations.WithLabelValues("create").Inc()
	s.publish(ctx, domain.TaskChangeCreated, *task)
	return task, nil
}

func (s *taskService) Update(ctx context.Context, sess *domain.Session, taskID string, patch domain.TaskPatch) (*domain.Task, error) {
	task, err := s.caretakerTask(ctx, sess, taskID)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, validationf("task name cannot be empty")
		}
		patch.Name = &name
	}
	if patch.ScheduledAt != nil {
		if patch.ScheduledAt.IsZero() {
			return nil, validationf("scheduledAt cannot be empty")
		}
		at := patch.ScheduledAt.UTC()
		patch.ScheduledAt = &at
	}
	if patch.Empty() {
		return task, nil
	}

	if err := s.tasks.UpdateTask(ctx, taskID, patch); err != nil {
		return nil, storeErr(err, "task "+taskID)
	}
	updated := patch.Apply(*task)
	metrics.TaskMutations.WithLabelValues("update").Inc()
	s.publish(ctx, domain.TaskChangeUpdated, updated)
	return &updated, nil
}

func (s *taskService) SetDone(ctx context.Context, sess *domain.Session, taskID string) (*SetDoneResponse, error) {
	if err := requireRole(sess, domain.RolePatient); err != nil {
		return nil, err
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeErr(err, "task "+taskID)
	}
	if task.PatientID != sess.AccountID {
		return nil, forbiddenf("task %s belongs to another patient", taskID)
	}

	now := s.now()
	if now.Before(task.ScheduledAt) {
		s.logger.Debug("SetDone ignored before scheduled time",
			zap.String("task_id", taskID),
			zap.Time("scheduled_at", task.ScheduledAt),
		)
		return &SetDoneResponse{Task: *task, Applied: false}, nil
	}

	done := !task.Done
	if err := s.tasks.SetTaskDone(ctx, taskID, done); err != nil {
		return nil, storeErr(err, "task "+taskID)
	}
	task.Done = done
	metrics.TaskMutations.WithLabelValues("done").Inc()
	s.publish(ctx, domain.TaskChangeDone, *task)

	if done && s.notifier != nil {
		if err := s.notifier.NotifyCompleted(ctx, *task, now); err != nil {
			s.logger.Warn("Completion notification failed", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	return &SetDoneResponse{Task: *task, Applied: true}, nil
}

func (s *taskService) Delete(ctx context.Context, sess *domain.Session, taskID string) error {
	task, err := s.caretakerTask(ctx, sess, taskID)
	if err != nil {
		return err
	}
	if err := s.tasks.DeleteTask(ctx, taskID); err != nil {
		return storeErr(err, "task "+taskID)
	}
	metrics.TaskMutations.WithLabelValues("delete").Inc()
	s.publish(ctx, domain.TaskChangeDeleted, *task)
	return nil
}

// caretakerScope caretaker 当前分配的 patient；未分配时禁止写入
func (s *taskService) caretakerScope(ctx context.Context, sess *domain.Session) (string, error) {
	if err := requireRole(sess, domain.RoleCaretaker); err != nil {
		return "", err
	}
	patientID, ok, err := s.assignments.ResolveAssignment(ctx, sess.AccountID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", forbiddenf("caretaker has no assigned patient")
	}
	return patientID, nil
}

// caretakerTask 读取任务并校验其属于 caretaker 当前分配的 patient
func (s *taskService) caretakerTask(ctx context.Context, sess *domain.Session, taskID string) (*domain.Task, error) {
	patientID, err := s.caretakerScope(ctx, sess)
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeErr(err, "task "+taskID)
	}
	if task.PatientID != patientID {
		return nil, forbiddenf("task %s is outside the assigned patient", taskID)
	}
	return task, nil
}

// publish 写入变更流；失败只记录（写操作本身已成功）
func (s *taskService) publish(ctx context.Context, kind string, task domain.Task) {
	change := domain.TaskChange{
		Kind:      kind,
		TaskID:    task.TaskID,
		PatientID: task.PatientID,
		At:        s.now().UTC(),
	}
	if err := s.feed.Publish(ctx, change); err != nil {
		metrics.TaskFeedErrors.WithLabelValues("publish").Inc()
		s.logger.Error("Failed to publish task change",
			zap.String("kind", kind),
			zap.String("task_id", task.TaskID),
			zap.String("patient_id", task.PatientID),
			zap.Error(err),
		)
	}
}
