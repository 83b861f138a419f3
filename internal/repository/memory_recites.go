package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/Gil-rei/Senzen/internal/domain"

	"github.com/google/uuid"
)

// MemoryRecitesRepo 内存账目库；编号计数器与 recite_sequences 语义一致
type MemoryRecitesRepo struct {
	mu        sync.Mutex
	recites   map[string]domain.Recite
	sequences map[string]int // patientID|date -> last_number
}

func NewMemoryRecitesRepo() *MemoryRecitesRepo {
	return &MemoryRecitesRepo{
		recites:   map[string]domain.Recite{},
		sequences: map[string]int{},
	}
}

var _ RecitesRepository = (*MemoryRecitesRepo)(nil)

func sequenceKey(patientID, date string) string {
	return patientID + "|" + date
}

func (r *MemoryRecitesRepo) GetRecite(_ context.Context, reciteID string) (*domain.Recite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.recites[reciteID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rc, nil
}

func (r *MemoryRecitesRepo) ListRecites(_ context.Context, patientID, date string) ([]domain.Recite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(patientID, date), nil
}

func (r *MemoryRecitesRepo) listLocked(patientID, date string) []domain.Recite {
	out := []domain.Recite{}
	for _, rc := range r.recites {
		if rc.PatientID == patientID && rc.Date == date {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemNumber < out[j].ItemNumber })
	return out
}

func (r *MemoryRecitesRepo) CreateRecite(_ context.Context, in *domain.Recite) (*domain.Recite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rc := *in
	if rc.ReciteID == "" {
		rc.ReciteID = uuid.NewString()
	}

	maxExisting := 0
	for _, existing := range r.listLocked(rc.PatientID, rc.Date) {
		if existing.ItemNumber > maxExisting {
			maxExisting = existing.ItemNumber
		}
	}
	key := sequenceKey(rc.PatientID, rc.Date)
	last := r.sequences[key]
	if maxExisting > last {
		last = maxExisting
	}
	rc.ItemNumber = last + 1
	r.sequences[key] = rc.ItemNumber

	r.recites[rc.ReciteID] = rc
	return &rc, nil
}

func (r *MemoryRecitesRepo) UpdateRecite(_ context.Context, reciteID string, patch domain.RecitePatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.recites[reciteID]
	if !ok {
		return sql.ErrNoRows
	}
	r.recites[reciteID] = patch.Apply(rc)
	return nil
}

func (r *MemoryRecitesRepo) DeleteRecite(_ context.Context, reciteID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recites[reciteID]; !ok {
		return sql.ErrNoRows
	}
	delete(r.recites, reciteID)
	return nil
}
