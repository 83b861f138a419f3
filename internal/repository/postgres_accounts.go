package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Gil-rei/Senzen/internal/domain"

	"github.com/google/uuid"
)

// PostgresAccountsRepository 账号Repository实现
type PostgresAccountsRepository struct {
	db *sql.DB
}

// NewPostgresAccountsRepository 创建账号Repository
func NewPostgresAccountsRepository(db *sql.DB) *PostgresAccountsRepository {
	return &PostgresAccountsRepository{db: db}
}

// 确保实现了接口
var _ AccountsRepository = (*PostgresAccountsRepository)(nil)

const accountColumns = `
	account_id::text,
	name,
	email,
	password_hash,
	role,
	gender,
	birthday,
	front_photo,
	back_photo,
	assigned_patient_id::text,
	created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	var role string
	err := row.Scan(
		&a.AccountID,
		&a.Name,
		&a.Email,
		&a.PasswordHash,
		&role,
		&a.Gender,
		&a.Birthday,
		&a.FrontPhoto,
		&a.BackPhoto,
		&a.AssignedPatientID,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Role, err = domain.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", a.AccountID, err)
	}
	return &a, nil
}

// GetAccount 获取账号
func (r *PostgresAccountsRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	if accountID == "" {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, accountID))
}

// GetAccountByEmail 根据邮箱获取账号（邮箱小写存储）
func (r *PostgresAccountsRepository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, email))
}

// ListAccounts 查询账号列表（按 name 排序）
func (r *PostgresAccountsRepository) ListAccounts(ctx context.Context, filters AccountFilters) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	var where []string
	var args []any
	if filters.Role != 0 {
		args = append(args, filters.Role.String())
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY name, account_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAccount 创建账号，返回 account_id
func (r *PostgresAccountsRepository) CreateAccount(ctx context.Context, a *domain.Account) (string, error) {
	if a.AccountID == "" {
		a.AccountID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			account_id, name, email, password_hash, role, gender,
			birthday, front_photo, back_photo, assigned_patient_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.AccountID,
		a.Name,
		normalizeEmail(a.Email),
		a.PasswordHash,
		a.Role.String(),
		a.Gender,
		a.Birthday,
		a.FrontPhoto,
		a.BackPhoto,
		a.AssignedPatientID,
	)
	if err != nil {
		return "", err
	}
	return a.AccountID, nil
}

// UpdateProfile 更新 name / email
func (r *PostgresAccountsRepository) UpdateProfile(ctx context.Context, accountID, name, email string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET name = $2, email = $3 WHERE account_id = $1`,
		accountID, name, normalizeEmail(email),
	)
	return checkAffected(res, err)
}

// SetPhotos 覆盖证件照 URL
func (r *PostgresAccountsRepository) SetPhotos(ctx context.Context, accountID string, front, back sql.NullString) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET front_photo = $2, back_photo = $3 WHERE account_id = $1`,
		accountID, front, back,
	)
	return checkAffected(res, err)
}

// SetAssignedPatient 覆盖 caretaker 的分配关系
func (r *PostgresAccountsRepository) SetAssignedPatient(ctx context.Context, caretakerID string, patientID sql.NullString) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET assigned_patient_id = $2 WHERE account_id = $1`,
		caretakerID, patientID,
	)
	return checkAffected(res, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// checkAffected 将 0 行受影响映射为 sql.ErrNoRows
func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
