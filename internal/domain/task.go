package domain

import "time"

// Task 提醒任务（对应 tasks 表）
// 状态：Pending (done=false) -> Done (done=true)
type Task struct {
	TaskID      string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CaretakerID string    `json:"caretakerId"`
	PatientID   string    `json:"patientId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Done        bool      `json:"done"`
}

// TaskPatch 任务部分更新：nil 字段不写入；不包含 done
type TaskPatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// Empty 是否没有任何字段
func (p TaskPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.ScheduledAt == nil
}

// Apply 将补丁应用到任务副本上
func (p TaskPatch) Apply(t Task) Task {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ScheduledAt != nil {
		t.ScheduledAt = *p.ScheduledAt
	}
	return t
}

// TaskChange 任务变更通知（写入变更流）
type TaskChange struct {
	Kind      string    `json:"kind"` // created / updated / done / deleted
	TaskID    string    `json:"task_id"`
	PatientID string    `json:"patient_id"`
	At        time.Time `json:"at"`
}

const (
	TaskChangeCreated = "created"
	TaskChangeUpdated = "updated"
	TaskChangeDone    = "done"
	TaskChangeDeleted = "deleted"
)
