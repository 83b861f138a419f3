package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/metrics"
	"github.com/Gil-rei/Senzen/internal/repository"
	"github.com/Gil-rei/Senzen/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService 账目（recite）同步：caretaker 按日期读写已分配 patient 的账目
type LedgerService interface {
	ListForDate(ctx context.Context, sess *domain.Session, date string) (*LedgerDay, error)
	Create(ctx context.Context, sess *domain.Session, req CreateReciteRequest) (*domain.Recite, error)
	Update(ctx context.Context, sess *domain.Session, reciteID string, req UpdateReciteRequest) (*domain.Recite, error)
	Delete(ctx context.Context, sess *domain.Session, reciteID string) error
}

// LedgerDay 某天的账目（按 itemNumber 升序）及合计
type LedgerDay struct {
	PatientID string          `json:"patientId"`
	Date      string          `json:"date"`
	Recites   []domain.Recite `json:"recites"`
	Total     decimal.Decimal `json:"total"`
}

// CreateReciteRequest 数量 / 单价以表单文本传入，由服务端解析
type CreateReciteRequest struct {
	Date       string
	ItemName   string
	ItemAmount string
	ItemPrice  string
}

// UpdateReciteRequest 部分更新；ItemNumber / Date 出现即拒绝
type UpdateReciteRequest struct {
	ItemName   *string
	ItemAmount *string
	ItemPrice  *string
	ItemNumber *int
	Date       *string
}

type ledgerService struct {
	recites     repository.RecitesRepository
	assignments AssignmentService
	cache       store.KV // 可为 nil
	cacheTTL    time.Duration
	cachePrefix string
	logger      *zap.Logger
}

// NewLedgerService 创建 LedgerService 实例；cache 为 nil 时直接读库
func NewLedgerService(
	recites repository.RecitesRepository,
	assignments AssignmentService,
	cache store.KV,
	cacheTTL time.Duration,
	cachePrefix string,
	logger *zap.Logger,
) LedgerService {
	return &ledgerService{
		recites:     recites,
		assignments: assignments,
		cache:       cache,
		cacheTTL:    cacheTTL,
		cachePrefix: cachePrefix,
		logger:      logger,
	}
}

func (s *ledgerService) ListForDate(ctx context.Context, sess *domain.Session, date string) (*LedgerDay, error) {
	date, err := parseLedgerDate(date)
	if err != nil {
		return nil, err
	}
	if err := requireRole(sess, domain.RoleCaretaker); err != nil {
		return nil, err
	}
	patientID, ok, err := s.assignments.ResolveAssignment(ctx, sess.AccountID)
	if err != nil {
		return nil, err
	}
	day := &LedgerDay{PatientID: patientID, Date: date, Recites: []domain.Recite{}, Total: decimal.Zero}
	if !ok {
		return day, nil
	}

	recites, err := s.readThrough(ctx, patientID, date)
	if err != nil {
		return nil, err
	}
	day.Recites = recites
	day.Total = domain.DayTotal(recites)
	return day, nil
}

func (s *ledgerService) readThrough(ctx context.Context, patientID, date string) ([]domain.Recite, error) {
	key := s.cacheKey(patientID, date)
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var cached []domain.Recite
			if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
				metrics.LedgerCache.WithLabelValues("hit").Inc()
				return cached, nil
			}
			metrics.LedgerCache.WithLabelValues("error").Inc()
		case errors.Is(err, store.ErrMiss):
			metrics.LedgerCache.WithLabelValues("miss").Inc()
		default:
			metrics.LedgerCache.WithLabelValues("error").Inc()
			s.logger.Warn("Ledger cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	recites, err := s.recites.ListRecites(ctx, patientID, date)
	if err != nil {
		return nil, storeErr(err, "list recites")
	}
	if s.cache != nil {
		if b, err := json.Marshal(recites); err == nil {
			if err := s.cache.Set(ctx, key, string(b), s.cacheTTL); err != nil {
				s.logger.Warn("Ledger cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return recites, nil
}

func (s *ledgerService) Create(ctx context.Context, sess *domain.Session, req CreateReciteRequest) (*domain.Recite, error) {
	patientID, err := s.caretakerScope(ctx, sess)
	if err != nil {
		return nil, err
	}
	date, err := parseLedgerDate(req.Date)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.ItemName)
	if name == "" {
		return nil, validationf("itemName is required")
	}
	amount, err := parseAmount(req.ItemAmount)
	if err != nil {
		return nil, err
	}
	price, err := parsePrice(req.ItemPrice)
	if err != nil {
		return nil, err
	}
	ts, _ := time.Parse(domain.DateLayout, date)

	rc, err := s.recites.CreateRecite(ctx, &domain.Recite{
		ItemName:    name,
		ItemAmount:  amount,
		ItemPrice:   price,
		Date:        date,
		CaretakerID: sess.AccountID,
		PatientID:   patientID,
		Timestamp:   ts,
	})
	s.invalidate(ctx, patientID, date)
	if err != nil {
		s.logger.Error("Failed to create recite",
			zap.String("patient_id", patientID),
			zap.String("date", date),
			zap.Error(err),
		)
		return nil, storeErr(err, "create recite")
	}
	metrics.LedgerEntriesCreated.Inc()
	s.logger.Info("Recite created",
		zap.String("recite_id", rc.ReciteID),
		zap.String("patient_id", patientID),
		zap.String("date", date),
		zap.Int("item_number", rc.ItemNumber),
	)
	return rc, nil
}

func (s *ledgerService) Update(ctx context.Context, sess *domain.Session, reciteID string, req UpdateReciteRequest) (*domain.Recite, error) {
	if req.ItemNumber != nil {
		return nil, validationf("itemNumber cannot be changed")
	}
	if req.Date != nil {
		return nil, validationf("date cannot be changed")
	}
	rc, err := s.caretakerRecite(ctx, sess, reciteID)
	if err != nil {
		return nil, err
	}

	var patch domain.RecitePatch
	if req.ItemName != nil {
		name := strings.TrimSpace(*req.ItemName)
		if name == "" {
			return nil, validationf("itemName cannot be empty")
		}
		patch.ItemName = &name
	}
	if req.ItemAmount != nil {
		amount, err := parseAmount(*req.ItemAmount)
		if err != nil {
			return nil, err
		}
		patch.ItemAmount = &amount
	}
	if req.ItemPrice != nil {
		price, err := parsePrice(*req.ItemPrice)
		if err != nil {
			return nil, err
		}
		patch.ItemPrice = &price
	}
	if patch.Empty() {
		return rc, nil
	}

	err = s.recites.UpdateRecite(ctx, reciteID, patch)
	s.invalidate(ctx, rc.PatientID, rc.Date)
	if err != nil {
		return nil, storeErr(err, "recite "+reciteID)
	}
	updated := patch.Apply(*rc)
	return &updated, nil
}

func (s *ledgerService) Delete(ctx context.Context, sess *domain.Session, reciteID string) error {
	rc, err := s.caretakerRecite(ctx, sess, reciteID)
	if err != nil {
		return err
	}
	err = s.recites.DeleteRecite(ctx, reciteID)
	s.invalidate(ctx, rc.PatientID, rc.Date)
	if err != nil {
		return storeErr(err, "recite "+reciteID)
	}
	return nil
}

func (s *ledgerService) caretakerScope(ctx context.Context, sess *domain.Session) (string, error) {
	if err := requireRole(sess, domain.RoleCaretaker); err != nil {
		return "", err
	}
	patientID, ok, err := s.assignments.ResolveAssignment(ctx, sess.AccountID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", forbiddenf("caretaker has no assigned patient")
	}
	return patientID, nil
}

func (s *ledgerService) caretakerRecite(ctx context.Context, sess *domain.Session, reciteID string) (*domain.Recite, error) {
	patientID, err := s.caretakerScope(ctx, sess)
	if err != nil {
		return nil, err
	}
	rc, err := s.recites.GetRecite(ctx, reciteID)
	if err != nil {
		return nil, storeErr(err, "recite "+reciteID)
	}
	if rc.PatientID != patientID {
		return nil, forbiddenf("recite %s is outside the assigned patient", reciteID)
	}
	return rc, nil
}

func (s *ledgerService) cacheKey(patientID, date string) string {
	return s.cachePrefix + patientID + ":" + date
}

// invalidate 写操作后（无论成功与否）丢弃该日缓存
func (s *ledgerService) invalidate(ctx context.Context, patientID, date string) {
	if s.cache == nil {
		return
	}
	key := s.cacheKey(patientID, date)
	if err := s.cache.Del(ctx, key); err != nil {
		s.logger.Warn("Ledger cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

func parseLedgerDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", validationf("date is required")
	}
	d, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return "", validationf("date must be YYYY-MM-DD")
	}
	return d.Format(domain.DateLayout), nil
}

func parseAmount(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, validationf("itemAmount is required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationf("itemAmount must be a whole number")
	}
	if n < 0 {
		return 0, validationf("itemAmount cannot be negative")
	}
	return n, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, validationf("itemPrice is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, validationf("itemPrice must be a number")
	}
	if d.IsNegative() {
		return decimal.Zero, validationf("itemPrice cannot be negative")
	}
	return d.Round(2), nil
}
