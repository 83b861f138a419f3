package repository

import (
	"context"

	"github.com/Gil-rei/Senzen/internal/domain"
)

// RecitesRepository 账目Repository接口
// 未找到时返回 sql.ErrNoRows
type RecitesRepository interface {
	GetRecite(ctx context.Context, reciteID string) (*domain.Recite, error)
	// ListRecites 按 item_number 升序
	ListRecites(ctx context.Context, patientID, date string) ([]domain.Recite, error)
	// CreateRecite 在 (patient, date) 分区内原子分配 item_number 并写入
	// 编号 = max(计数器, 现存最大编号) + 1，删除后不复用
	CreateRecite(ctx context.Context, recite *domain.Recite) (*domain.Recite, error)
	// UpdateRecite 只写入补丁中给出的字段；item_number / date 不可变
	UpdateRecite(ctx context.Context, reciteID string, patch domain.RecitePatch) error
	DeleteRecite(ctx context.Context, reciteID string) error
}
