package service

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Gil-rei/Senzen/internal/repository"

	"github.com/lib/pq"
)

// 服务层错误分类；HTTP 层按 errors.Is 映射状态码
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("authentication failed")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream unavailable")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// storeErr 将 Repository 错误映射到服务层错误
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return fmt.Errorf("%w: email already exists", ErrValidation)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: email already exists", ErrValidation)
		case "23514", "23503": // check_violation, foreign_key_violation
			return fmt.Errorf("%w: %s", ErrValidation, pqErr.Message)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUpstream, what, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
