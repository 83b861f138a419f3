package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/service"

	"go.uber.org/zap"
)

const defaultHeartbeat = 15 * time.Second

// TaskHandler 任务 CRUD、patient 完成、SSE 实时订阅
type TaskHandler struct {
	tasks     service.TaskService
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewTaskHandler(tasks service.TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger, heartbeat: defaultHeartbeat}
}

type createTaskBody struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Done        bool      `json:"done"` // 忽略，新任务总是 Pending
}

// List GET /care/api/v1/tasks | /patient/api/v1/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": tasks,
		"total": len(tasks),
	}))
}

// Create POST /care/api/v1/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createTaskBody
	if err := readBodyJSON(r, maxJSONBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	task, err := h.tasks.Create(r.Context(), sessionFrom(r.Context()), service.CreateTaskRequest{
		Name:        body.Name,
		Description: body.Description,
		ScheduledAt: body.ScheduledAt,
		Done:        body.Done,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(task))
}

// Update PUT /care/api/v1/tasks/{id}（只写入请求中出现的字段）
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch domain.TaskPatch
	if err := readBodyJSON(r, maxJSONBody, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	task, err := h.tasks.Update(r.Context(), sessionFrom(r.Context()), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(task))
}

// Delete DELETE /care/api/v1/tasks/{id}
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.tasks.Delete(r.Context(), sessionFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// SetDone POST /patient/api/v1/tasks/{id}/done
// 到点前调用返回 applied=false，任务不变
func (h *TaskHandler) SetDone(w http.ResponseWriter, r *http.Request) {
	resp, err := h.tasks.SetDone(r.Context(), sessionFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// Stream GET .../tasks/stream（text/event-stream）
// 事件：snapshot（完整任务列表）、completed（本批次新完成的任务）、error（订阅终止）
func (h *TaskHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, Fail("streaming unsupported"))
		return
	}
	sess := sessionFrom(r.Context())
	sub, err := h.tasks.Subscribe(r.Context(), sess)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					h.logger.Warn("Task stream ended",
						zap.String("account_id", sess.AccountID),
						zap.Error(err),
					)
					_ = writeEvent(w, "error", Fail(err.Error()))
					flusher.Flush()
				}
				return
			}
			if err := writeEvent(w, "snapshot", snap); err != nil {
				return
			}
			if snap.Completed != nil {
				if err := writeEvent(w, "completed", snap.Completed); err != nil {
					return
				}
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
