package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/Gil-rei/Senzen/internal/domain"

	"github.com/google/uuid"
)

// MemoryTasksRepo 内存任务库（DB 未就绪时使用）
type MemoryTasksRepo struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
}

func NewMemoryTasksRepo() *MemoryTasksRepo {
	return &MemoryTasksRepo{tasks: map[string]domain.Task{}}
}

var _ TasksRepository = (*MemoryTasksRepo)(nil)

func (r *MemoryTasksRepo) GetTask(_ context.Context, taskID string) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &t, nil
}

func (r *MemoryTasksRepo) ListTasksByPatient(_ context.Context, patientID string) ([]domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Task{}
	for _, t := range r.tasks {
		if t.PatientID == patientID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out, nil
}

func (r *MemoryTasksRepo) CreateTask(_ context.Context, t *domain.Task) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.TaskID == "" {
		t.TaskID = uuid.NewString()
	}
	t.Done = false
	r.tasks[t.TaskID] = *t
	return t.TaskID, nil
}

func (r *MemoryTasksRepo) UpdateTask(_ context.Context, taskID string, patch domain.TaskPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return sql.ErrNoRows
	}
	r.tasks[taskID] = patch.Apply(t)
	return nil
}

func (r *MemoryTasksRepo) SetTaskDone(_ context.Context, taskID string, done bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return sql.ErrNoRows
	}
	t.Done = done
	r.tasks[taskID] = t
	return nil
}

func (r *MemoryTasksRepo) DeleteTask(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[taskID]; !ok {
		return sql.ErrNoRows
	}
	delete(r.tasks, taskID)
	return nil
}
