package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"

	"github.com/google/uuid"
)

// ErrDuplicateEmail 内存实现中邮箱重复（PostgreSQL 由唯一索引报 23505）
var ErrDuplicateEmail = errors.New("email already exists")

// MemoryAccountsRepo supports local dev and tests when DB is disabled.
type MemoryAccountsRepo struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account // accountID -> Account
}

func NewMemoryAccountsRepo() *MemoryAccountsRepo {
	return &MemoryAccountsRepo{
		accounts: map[string]domain.Account{},
	}
}

var _ AccountsRepository = (*MemoryAccountsRepo)(nil)

func (r *MemoryAccountsRepo) GetAccount(_ context.Context, accountID string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (r *MemoryAccountsRepo) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	email = normalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.Email == email {
			out := a
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *MemoryAccountsRepo) ListAccounts(_ context.Context, filters AccountFilters) ([]*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filters.Search))
	out := make([]*domain.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if filters.Role != 0 && a.Role != filters.Role {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(a.Name), search) {
			continue
		}
		acc := a
		out = append(out, &acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

func (r *MemoryAccountsRepo) CreateAccount(_ context.Context, a *domain.Account) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := normalizeEmail(a.Email)
	for _, existing := range r.accounts {
		if existing.Email == email {
			return "", ErrDuplicateEmail
		}
	}
	if a.AccountID == "" {
		a.AccountID = uuid.NewString()
	}
	stored := *a
	stored.Email = email
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.accounts[stored.AccountID] = stored
	return stored.AccountID, nil
}

func (r *MemoryAccountsRepo) UpdateProfile(_ context.Context, accountID, name, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return sql.ErrNoRows
	}
	email = normalizeEmail(email)
	for id, existing := range r.accounts {
		if id != accountID && existing.Email == email {
			return ErrDuplicateEmail
		}
	}
	a.Name = name
	a.Email = email
	r.accounts[accountID] = a
	return nil
}

func (r *MemoryAccountsRepo) SetPhotos(_ context.Context, accountID string, front, back sql.NullString) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return sql.ErrNoRows
	}
	a.FrontPhoto = front
	a.BackPhoto = back
	r.accounts[accountID] = a
	return nil
}

func (r *MemoryAccountsRepo) SetAssignedPatient(_ context.Context, caretakerID string, patientID sql.NullString) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[caretakerID]
	if !ok {
		return sql.ErrNoRows
	}
	a.AssignedPatientID = patientID
	r.accounts[caretakerID] = a
	return nil
}
