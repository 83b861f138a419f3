package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Gil-rei/Senzen/internal/domain"

	"github.com/google/uuid"
)

// PostgresTasksRepository 任务Repository实现
type PostgresTasksRepository struct {
	db *sql.DB
}

// NewPostgresTasksRepository 创建任务Repository
func NewPostgresTasksRepository(db *sql.DB) *PostgresTasksRepository {
	return &PostgresTasksRepository{db: db}
}

var _ TasksRepository = (*PostgresTasksRepository)(nil)

const taskColumns = `task_id::text, name, description, caretaker_id::text, patient_id::text, scheduled_at, done`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.TaskID, &t.Name, &t.Description, &t.CaretakerID, &t.PatientID, &t.ScheduledAt, &t.Done)
	return t, err
}

// GetTask 获取任务
func (r *PostgresTasksRepository) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	if taskID == "" {
		return nil, sql.ErrNoRows
	}
	t, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasksByPatient 查询某位 patient 的全部任务
func (r *PostgresTasksRepository) ListTasksByPatient(ctx context.Context, patientID string) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE patient_id = $1 ORDER BY scheduled_at, task_id`,
		patientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTask 创建任务（done 固定为 false）
func (r *PostgresTasksRepository) CreateTask(ctx context.Context, t *domain.Task) (string, error) {
	if t.TaskID == "" {
		t.TaskID = uuid.NewString()
	}
	t.Done = false
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, name, description, caretaker_id, patient_id, scheduled_at, done)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)`,
		t.TaskID, t.Name, t.Description, t.CaretakerID, t.PatientID, t.ScheduledAt,
	)
	if err != nil {
		return "", err
	}
	return t.TaskID, nil
}

// UpdateTask 按补丁动态拼接 SET 子句
func (r *PostgresTasksRepository) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) error {
	if patch.Empty() {
		return nil
	}
	args := []any{taskID}
	var sets []string
	if patch.Name != nil {
		args = append(args, *patch.Name)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if patch.Description != nil {
		args = append(args, *patch.Description)
		sets = append(sets, fmt.Sprintf("description = $%d", len(args)))
	}
	if patch.ScheduledAt != nil {
		args = append(args, *patch.ScheduledAt)
		sets = append(sets, fmt.Sprintf("scheduled_at = $%d", len(args)))
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE task_id = $1`,
		args...,
	)
	return checkAffected(res, err)
}

// SetTaskDone 只写 done 字段
func (r *PostgresTasksRepository) SetTaskDone(ctx context.Context, taskID string, done bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET done = $2 WHERE task_id = $1`, taskID, done)
	return checkAffected(res, err)
}

// DeleteTask 删除任务
func (r *PostgresTasksRepository) DeleteTask(ctx context.Context, taskID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = $1`, taskID)
	return checkAffected(res, err)
}
