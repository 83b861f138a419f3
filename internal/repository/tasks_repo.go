package repository

import (
	"context"

	"github.com/Gil-rei/Senzen/internal/domain"
)

// TasksRepository 任务Repository接口
// 未找到时返回 sql.ErrNoRows
type TasksRepository interface {
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	// ListTasksByPatient 按 scheduled_at, task_id 升序
	ListTasksByPatient(ctx context.Context, patientID string) ([]domain.Task, error)
	// CreateTask 总是以 done=false 写入
	CreateTask(ctx context.Context, task *domain.Task) (string, error)
	// UpdateTask 只写入补丁中给出的字段，不触碰 done
	UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) error
	SetTaskDone(ctx context.Context, taskID string, done bool) error
	DeleteTask(ctx context.Context, taskID string) error
}
