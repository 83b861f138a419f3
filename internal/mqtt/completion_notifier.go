package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"

	"go.uber.org/zap"
)

// Publisher MQTT 发布接口（common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// CompletionMessage 任务完成推送内容
type CompletionMessage struct {
	TaskID      string    `json:"task_id"`
	TaskName    string    `json:"task_name"`
	PatientID   string    `json:"patient_id"`
	CaretakerID string    `json:"caretaker_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// CompletionNotifier patient 完成任务后向 caretaker 推送
// topic: {prefix}/{caretakerID}/completed
type CompletionNotifier struct {
	publisher Publisher
	prefix    string
	qos       byte
	logger    *zap.Logger
}

// NewCompletionNotifier 创建完成通知推送器
func NewCompletionNotifier(publisher Publisher, topicPrefix string, qos byte, logger *zap.Logger) *CompletionNotifier {
	return &CompletionNotifier{
		publisher: publisher,
		prefix:    topicPrefix,
		qos:       qos,
		logger:    logger,
	}
}

// Topic 返回 caretaker 的完成通知 topic
func (n *CompletionNotifier) Topic(caretakerID string) string {
	return fmt.Sprintf("%s/%s/completed", n.prefix, caretakerID)
}

// NotifyCompleted 发布完成通知
func (n *CompletionNotifier) NotifyCompleted(_ context.Context, task domain.Task, at time.Time) error {
	payload, err := json.Marshal(CompletionMessage{
		TaskID:      task.TaskID,
		TaskName:    task.Name,
		PatientID:   task.PatientID,
		CaretakerID: task.CaretakerID,
		ScheduledAt: task.ScheduledAt,
		CompletedAt: at,
	})
	if err != nil {
		return err
	}
	topic := n.Topic(task.CaretakerID)
	if err := n.publisher.Publish(topic, n.qos, false, payload); err != nil {
		n.logger.Warn("Failed to publish completion",
			zap.String("topic", topic),
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
		return err
	}
	n.logger.Debug("Completion published", zap.String("topic", topic), zap.String("task_id", task.TaskID))
	return nil
}
