package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/metrics"
	"github.com/Gil-rei/Senzen/internal/repository"
	"github.com/Gil-rei/Senzen/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// passwordCost bcrypt 计算强度（测试中调低）
var passwordCost = bcrypt.DefaultCost

// HashPassword 生成密码哈希
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), passwordCost)
}

// AuthService 登录 / 登出 / 会话解析
type AuthService interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Logout(ctx context.Context, token string) error
	// Resolve 解析 Bearer token，每个请求显式携带返回的 Session
	Resolve(ctx context.Context, token string) (*domain.Session, error)
}

type authService struct {
	accounts repository.AccountsRepository
	sessions *SessionStore
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(accounts repository.AccountsRepository, sessions *SessionStore, ttl time.Duration, logger *zap.Logger) AuthService {
	return &authService{
		accounts: accounts,
		sessions: sessions,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string // 客户端 IP（用于日志）
	UserAgent string
}

// LoginResponse 登录响应
type LoginResponse struct {
	AccessToken string      `json:"accessToken"`
	UserID      string      `json:"userId"`
	NickName    string      `json:"nickName"`
	Role        domain.Role `json:"role"`
	HomePath    string      `json:"homePath"` // 按角色路由的首页
	ExpiresAt   time.Time   `json:"expiresAt"`
}

// Login 用户登录
func (s *authService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		return nil, validationf("email and password are required")
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownRole):
			s.logger.Warn("User login failed: unknown role",
				zap.String("ip_address", req.IPAddress),
				zap.Error(err),
			)
			metrics.LoginAttempts.WithLabelValues("invalid").Inc()
			return nil, fmt.Errorf("%w: unknown user role", ErrAuth)
		case errors.Is(err, sql.ErrNoRows):
			s.logger.Warn("User login failed: account not found",
				zap.String("ip_address", req.IPAddress),
				zap.String("user_agent", req.UserAgent),
				zap.String("reason", "account_not_found"),
			)
			metrics.LoginAttempts.WithLabelValues("invalid").Inc()
			return nil, fmt.Errorf("%w: invalid credentials", ErrAuth)
		default:
			s.logger.Error("User login failed: account lookup", zap.Error(err))
			metrics.LoginAttempts.WithLabelValues("error").Inc()
			return nil, storeErr(err, "account lookup")
		}
	}

	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(req.Password)); err != nil {
		s.logger.Warn("User login failed: password mismatch",
			zap.String("account_id", account.AccountID),
			zap.String("ip_address", req.IPAddress),
			zap.String("reason", "invalid_password"),
		)
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: invalid credentials", ErrAuth)
	}

	sess := &domain.Session{
		Token:     uuid.NewString(),
		AccountID: account.AccountID,
		Role:      account.Role,
		ExpiresAt: s.now().Add(s.ttl).UTC(),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		s.logger.Error("Failed to save session", zap.String("account_id", account.AccountID), zap.Error(err))
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: session store: %v", ErrUpstream, err)
	}

	s.logger.Info("User login succeeded",
		zap.String("account_id", account.AccountID),
		zap.String("role", account.Role.String()),
		zap.String("ip_address", req.IPAddress),
	)
	metrics.LoginAttempts.WithLabelValues("success").Inc()

	return &LoginResponse{
		AccessToken: sess.Token,
		UserID:      account.AccountID,
		NickName:    account.Name,
		Role:        account.Role,
		HomePath:    account.Role.HomePath(),
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

// Logout 使会话失效（重复登出不报错）
func (s *authService) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: missing session", ErrAuth)
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("%w: session store: %v", ErrUpstream, err)
	}
	return nil
}

func (s *authService) Resolve(ctx context.Context, token string) (*domain.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: missing session", ErrAuth)
	}
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			return nil, fmt.Errorf("%w: session expired or invalid", ErrAuth)
		}
		return nil, fmt.Errorf("%w: session store: %v", ErrUpstream, err)
	}
	if !sess.ExpiresAt.IsZero() && s.now().After(sess.ExpiresAt) {
		_ = s.sessions.Delete(ctx, token)
		return nil, fmt.Errorf("%w: session expired or invalid", ErrAuth)
	}
	if !sess.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown user role", ErrAuth)
	}
	return sess, nil
}
