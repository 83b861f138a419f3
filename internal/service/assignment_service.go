package service

import (
	"context"
	"database/sql"
	"strings"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/repository"

	"go.uber.org/zap"
)

// AssignmentService caretaker -> patient 分配关系
type AssignmentService interface {
	// ResolveAssignment 返回 caretaker 当前分配的 patient；未分配时 ok=false
	ResolveAssignment(ctx context.Context, caretakerID string) (patientID string, ok bool, err error)
	// SetAssignment 仅 admin；patientID 为 nil 表示取消分配
	SetAssignment(ctx context.Context, sess *domain.Session, caretakerID string, patientID *string) error
}

type assignmentService struct {
	accounts repository.AccountsRepository
	logger   *zap.Logger
}

// NewAssignmentService 创建 AssignmentService 实例
func NewAssignmentService(accounts repository.AccountsRepository, logger *zap.Logger) AssignmentService {
	return &assignmentService{accounts: accounts, logger: logger}
}

func (s *assignmentService) ResolveAssignment(ctx context.Context, caretakerID string) (string, bool, error) {
	account, err := s.accounts.GetAccount(ctx, caretakerID)
	if err != nil {
		return "", false, storeErr(err, "caretaker "+caretakerID)
	}
	if account.Role != domain.RoleCaretaker {
		return "", false, validationf("account %s is not a caretaker", caretakerID)
	}
	if !account.AssignedPatientID.Valid || account.AssignedPatientID.String == "" {
		return "", false, nil
	}
	return account.AssignedPatientID.String, true, nil
}

func (s *assignmentService) SetAssignment(ctx context.Context, sess *domain.Session, caretakerID string, patientID *string) error {
	if err := requireRole(sess, domain.RoleAdmin); err != nil {
		return err
	}
	caretaker, err := s.accounts.GetAccount(ctx, caretakerID)
	if err != nil {
		return storeErr(err, "caretaker "+caretakerID)
	}
	if caretaker.Role != domain.RoleCaretaker {
		return validationf("account %s is not a caretaker", caretakerID)
	}

	target := sql.NullString{}
	if patientID != nil && strings.TrimSpace(*patientID) != "" {
		id := strings.TrimSpace(*patientID)
		if err := checkPatientRef(ctx, s.accounts, id); err != nil {
			return err
		}
		target = sql.NullString{String: id, Valid: true}
	}

	if err := s.accounts.SetAssignedPatient(ctx, caretakerID, target); err != nil {
		return storeErr(err, "caretaker "+caretakerID)
	}
	s.logger.Info("Caretaker assignment updated",
		zap.String("caretaker_id", caretakerID),
		zap.String("patient_id", target.String),
		zap.String("admin_id", sess.AccountID),
	)
	return nil
}

// checkPatientRef 引用必须指向 role=patient 的账号
func checkPatientRef(ctx context.Context, accounts repository.AccountsRepository, patientID string) error {
	patient, err := accounts.GetAccount(ctx, patientID)
	if err != nil {
		if isNotFound(err) {
			return validationf("patient %s does not exist", patientID)
		}
		return storeErr(err, "patient "+patientID)
	}
	if patient.Role != domain.RolePatient {
		return validationf("account %s is not a patient", patientID)
	}
	return nil
}

// requireRole 会话角色必须属于 roles 之一
func requireRole(sess *domain.Session, roles ...domain.Role) error {
	if sess == nil {
		return forbiddenf("missing session")
	}
	for _, r := range roles {
		if sess.Role == r {
			return nil
		}
	}
	return forbiddenf("role %s not allowed", sess.Role)
}

// patientScope 会话可见的 patient：caretaker -> 已分配的 patient，patient -> 自己
// caretaker 未分配时 ok=false（调用方返回空集合）
func patientScope(ctx context.Context, assignments AssignmentService, sess *domain.Session) (string, bool, error) {
	if sess == nil {
		return "", false, forbiddenf("missing session")
	}
	switch sess.Role {
	case domain.RolePatient:
		return sess.AccountID, true, nil
	case domain.RoleCaretaker:
		return assignments.ResolveAssignment(ctx, sess.AccountID)
	case domain.RoleAdmin:
		return "", false, forbiddenf("admin has no patient scope")
	default:
		return "", false, forbiddenf("unknown role")
	}
}
