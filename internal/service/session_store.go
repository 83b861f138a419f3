package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/store"
)

// SessionStore 会话存储（KV：prefix + token -> Session JSON）
type SessionStore struct {
	kv     store.KV
	prefix string
	ttl    time.Duration
}

func NewSessionStore(kv store.KV, prefix string, ttl time.Duration) *SessionStore {
	return &SessionStore{kv: kv, prefix: prefix, ttl: ttl}
}

func (s *SessionStore) key(token string) string {
	return s.prefix + token
}

func (s *SessionStore) Save(ctx context.Context, sess *domain.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key(sess.Token), string(b), s.ttl)
}

// Get 会话不存在时返回 store.ErrMiss
func (s *SessionStore) Get(ctx context.Context, token string) (*domain.Session, error) {
	raw, err := s.kv.Get(ctx, s.key(token))
	if err != nil {
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	err := s.kv.Del(ctx, s.key(token))
	if errors.Is(err, store.ErrMiss) {
		return nil
	}
	return err
}
