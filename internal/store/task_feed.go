package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	rediscommon "github.com/Gil-rei/Senzen/common/redis"
	"github.com/Gil-rei/Senzen/internal/domain"

	"github.com/go-redis/redis/v8"
)

// FeedEntry 变更流中的一条记录
type FeedEntry struct {
	ID     string
	Change domain.TaskChange
}

// TaskFeed 按 patient 分区的任务变更流
// 订阅方先取 LastID 再读快照，之后从该位置 Read，保证快照之后的变更不会丢失
type TaskFeed interface {
	Publish(ctx context.Context, change domain.TaskChange) error
	LastID(ctx context.Context, patientID string) (string, error)
	// Read 返回 afterID 之后的变更；无变更时最多阻塞到配置的时长，返回空切片
	Read(ctx context.Context, patientID, afterID string) ([]FeedEntry, error)
}

// RedisTaskFeed 基于 Redis Streams 的变更流（每个 patient 一个 stream）
type RedisTaskFeed struct {
	client *redis.Client
	prefix string
	maxLen int64
	block  time.Duration
	count  int64
}

func NewRedisTaskFeed(client *redis.Client, prefix string, maxLen int64, block time.Duration) *RedisTaskFeed {
	return &RedisTaskFeed{
		client: client,
		prefix: prefix,
		maxLen: maxLen,
		block:  block,
		count:  100,
	}
}

var _ TaskFeed = (*RedisTaskFeed)(nil)

func (f *RedisTaskFeed) stream(patientID string) string {
	return f.prefix + patientID
}

func (f *RedisTaskFeed) Publish(ctx context.Context, change domain.TaskChange) error {
	_, err := rediscommon.PublishJSONToStream(ctx, f.client, f.stream(change.PatientID), f.maxLen, change)
	return err
}

func (f *RedisTaskFeed) LastID(ctx context.Context, patientID string) (string, error) {
	return rediscommon.LastStreamID(ctx, f.client, f.stream(patientID))
}

func (f *RedisTaskFeed) Read(ctx context.Context, patientID, afterID string) ([]FeedEntry, error) {
	msgs, err := rediscommon.ReadStreamAfter(ctx, f.client, f.stream(patientID), afterID, f.count, f.block)
	if err != nil {
		return nil, err
	}
	out := make([]FeedEntry, 0, len(msgs))
	for _, m := range msgs {
		entry := FeedEntry{ID: m.ID}
		raw, _ := m.Values["data"].(string)
		if err := json.Unmarshal([]byte(raw), &entry.Change); err != nil {
			return nil, fmt.Errorf("decode task change %s: %w", m.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// MemoryTaskFeed 进程内变更流（Redis 不可用时使用）
type MemoryTaskFeed struct {
	mu      sync.Mutex
	block   time.Duration
	maxLen  int64 // 每个 patient 保留的最大条数，<=0 不裁剪
	entries map[string][]memoryEntry
	wake    map[string]chan struct{} // 有新变更时关闭并替换
	seq     int64
}

type memoryEntry struct {
	seq    int64
	change domain.TaskChange
}

func NewMemoryTaskFeed(block time.Duration, maxLen int64) *MemoryTaskFeed {
	return &MemoryTaskFeed{
		block:   block,
		maxLen:  maxLen,
		entries: map[string][]memoryEntry{},
		wake:    map[string]chan struct{}{},
	}
}

var _ TaskFeed = (*MemoryTaskFeed)(nil)

func (f *MemoryTaskFeed) Publish(_ context.Context, change domain.TaskChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	entries := append(f.entries[change.PatientID], memoryEntry{seq: f.seq, change: change})
	if f.maxLen > 0 && int64(len(entries)) > f.maxLen {
		// 与 XADD MAXLEN 一致：丢弃最旧的记录，序号保持单调
		entries = append([]memoryEntry(nil), entries[int64(len(entries))-f.maxLen:]...)
	}
	f.entries[change.PatientID] = entries
	if ch, ok := f.wake[change.PatientID]; ok {
		close(ch)
		delete(f.wake, change.PatientID)
	}
	return nil
}

func (f *MemoryTaskFeed) LastID(_ context.Context, patientID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.entries[patientID]
	if len(entries) == 0 {
		return "0", nil
	}
	return strconv.FormatInt(entries[len(entries)-1].seq, 10), nil
}

func (f *MemoryTaskFeed) Read(ctx context.Context, patientID, afterID string) ([]FeedEntry, error) {
	after, err := strconv.ParseInt(afterID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid feed position %q: %w", afterID, err)
	}

	f.mu.Lock()
	out := f.collectLocked(patientID, after)
	if len(out) > 0 || f.block < 0 {
		f.mu.Unlock()
		return out, nil
	}
	ch, ok := f.wake[patientID]
	if !ok {
		ch = make(chan struct{})
		f.wake[patientID] = ch
	}
	f.mu.Unlock()

	var timeout <-chan time.Time
	if f.block > 0 {
		timer := time.NewTimer(f.block)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return []FeedEntry{}, nil
	case <-ch:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collectLocked(patientID, after), nil
}

func (f *MemoryTaskFeed) collectLocked(patientID string, after int64) []FeedEntry {
	out := []FeedEntry{}
	for _, e := range f.entries[patientID] {
		if e.seq > after {
			out = append(out, FeedEntry{ID: strconv.FormatInt(e.seq, 10), Change: e.change})
		}
	}
	return out
}
