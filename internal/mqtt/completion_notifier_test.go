package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, qos byte, _ bool, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, payload: payload})
	return nil
}

func TestCompletionNotifier_PublishesToCaretakerTopic(t *testing.T) {
	pub := &fakePublisher{}
	n := NewCompletionNotifier(pub, "senzen/caretaker", 1, zap.NewNop())

	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	task := domain.Task{TaskID: "t1", Name: "Give medicine", PatientID: "p1", CaretakerID: "c1", ScheduledAt: at.Add(-time.Hour)}
	require.NoError(t, n.NotifyCompleted(context.Background(), task, at))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "senzen/caretaker/c1/completed", pub.msgs[0].topic)
	assert.Equal(t, byte(1), pub.msgs[0].qos)

	var msg CompletionMessage
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &msg))
	assert.Equal(t, "t1", msg.TaskID)
	assert.Equal(t, "Give medicine", msg.TaskName)
	assert.True(t, msg.CompletedAt.Equal(at))
}

func TestCompletionNotifier_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	n := NewCompletionNotifier(pub, "senzen/caretaker", 0, zap.NewNop())

	err := n.NotifyCompleted(context.Background(), domain.Task{TaskID: "t1", CaretakerID: "c1"}, time.Now())
	assert.Error(t, err)
}
