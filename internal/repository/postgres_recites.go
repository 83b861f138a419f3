package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Gil-rei/Senzen/internal/domain"

	"github.com/google/uuid"
)

// PostgresRecitesRepository 账目Repository实现
type PostgresRecitesRepository struct {
	db *sql.DB
}

// NewPostgresRecitesRepository 创建账目Repository
func NewPostgresRecitesRepository(db *sql.DB) *PostgresRecitesRepository {
	return &PostgresRecitesRepository{db: db}
}

var _ RecitesRepository = (*PostgresRecitesRepository)(nil)

const reciteColumns = `
	recite_id::text,
	item_number,
	item_name,
	item_amount,
	item_price,
	to_char(entry_date, 'YYYY-MM-DD'),
	caretaker_id::text,
	patient_id::text,
	recorded_at`

// allocateItemNumberSQL 在同一事务内推进 (patient, date) 计数器
// 首次分配以现存最大编号 + 1 作为种子；ON CONFLICT 行锁保证并发创建互斥
const allocateItemNumberSQL = `
	INSERT INTO recite_sequences (patient_id, entry_date, last_number)
	VALUES ($1, $2::date, (
		SELECT COALESCE(MAX(item_number), 0) + 1 FROM recites WHERE patient_id = $1 AND entry_date = $2::date
	))
	ON CONFLICT (patient_id, entry_date)
	DO UPDATE SET last_number = GREATEST(
		recite_sequences.last_number,
		(SELECT COALESCE(MAX(item_number), 0) FROM recites WHERE patient_id = $1 AND entry_date = $2::date)
	) + 1
	RETURNING last_number`

func scanRecite(row rowScanner) (domain.Recite, error) {
	var rc domain.Recite
	err := row.Scan(
		&rc.ReciteID,
		&rc.ItemNumber,
		&rc.ItemName,
		&rc.ItemAmount,
		&rc.ItemPrice,
		&rc.Date,
		&rc.CaretakerID,
		&rc.PatientID,
		&rc.Timestamp,
	)
	return rc, err
}

// GetRecite 获取账目
func (r *PostgresRecitesRepository) GetRecite(ctx context.Context, reciteID string) (*domain.Recite, error) {
	if reciteID == "" {
		return nil, sql.ErrNoRows
	}
	rc, err := scanRecite(r.db.QueryRowContext(ctx,
		`SELECT `+reciteColumns+` FROM recites WHERE recite_id = $1`, reciteID))
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// ListRecites 查询某位 patient 某天的账目
func (r *PostgresRecitesRepository) ListRecites(ctx context.Context, patientID, date string) ([]domain.Recite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reciteColumns+` FROM recites WHERE patient_id = $1 AND entry_date = $2::date ORDER BY item_number ASC`,
		patientID, date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Recite{}
	for rows.Next() {
		rc, err := scanRecite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// CreateRecite 分配编号并写入（同一事务）
func (r *PostgresRecitesRepository) CreateRecite(ctx context.Context, in *domain.Recite) (*domain.Recite, error) {
	rc := *in
	if rc.ReciteID == "" {
		rc.ReciteID = uuid.NewString()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx, allocateItemNumberSQL, rc.PatientID, rc.Date).Scan(&rc.ItemNumber); err != nil {
		return nil, fmt.Errorf("failed to allocate item number: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recites (
			recite_id, item_number, item_name, item_amount, item_price,
			entry_date, caretaker_id, patient_id, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9)`,
		rc.ReciteID,
		rc.ItemNumber,
		rc.ItemName,
		rc.ItemAmount,
		rc.ItemPrice,
		rc.Date,
		rc.CaretakerID,
		rc.PatientID,
		rc.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert recite: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit recite: %w", err)
	}
	return &rc, nil
}

// UpdateRecite 按补丁动态拼接 SET 子句（不含 item_number / entry_date）
func (r *PostgresRecitesRepository) UpdateRecite(ctx context.Context, reciteID string, patch domain.RecitePatch) error {
	if patch.Empty() {
		return nil
	}
	args := []any{reciteID}
	var sets []string
	if patch.ItemName != nil {
		args = append(args, *patch.ItemName)
		sets = append(sets, fmt.Sprintf("item_name = $%d", len(args)))
	}
	if patch.ItemAmount != nil {
		args = append(args, *patch.ItemAmount)
		sets = append(sets, fmt.Sprintf("item_amount = $%d", len(args)))
	}
	if patch.ItemPrice != nil {
		args = append(args, *patch.ItemPrice)
		sets = append(sets, fmt.Sprintf("item_price = $%d", len(args)))
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE recites SET `+strings.Join(sets, ", ")+` WHERE recite_id = $1`,
		args...,
	)
	return checkAffected(res, err)
}

// DeleteRecite 删除账目（不重排编号，计数器保持不变）
func (r *PostgresRecitesRepository) DeleteRecite(ctx context.Context, reciteID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recites WHERE recite_id = $1`, reciteID)
	return checkAffected(res, err)
}
