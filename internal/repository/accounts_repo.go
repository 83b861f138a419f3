package repository

import (
	"context"
	"database/sql"

	"github.com/Gil-rei/Senzen/internal/domain"
)

// AccountsRepository 账号Repository接口
// 未找到时返回 sql.ErrNoRows
type AccountsRepository interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	ListAccounts(ctx context.Context, filters AccountFilters) ([]*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) (string, error)

	// UpdateProfile 只更新 name / email
	UpdateProfile(ctx context.Context, accountID, name, email string) error
	// SetPhotos 覆盖证件照 URL（patient）
	SetPhotos(ctx context.Context, accountID string, front, back sql.NullString) error
	// SetAssignedPatient 覆盖 caretaker 的 assigned_patient_id；Valid=false 表示取消分配
	SetAssignedPatient(ctx context.Context, caretakerID string, patientID sql.NullString) error
}

// AccountFilters 账号查询过滤器
type AccountFilters struct {
	Role   domain.Role // 0 表示不过滤
	Search string      // 按 name 模糊搜索（不区分大小写）
}
