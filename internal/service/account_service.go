package service

import (
	"context"
	"database/sql"
	"net/mail"
	"strings"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/repository"

	"go.uber.org/zap"
)

// MinPatientAge patient 账号的最低年龄
const MinPatientAge = 60

// minPasswordLength 与原托管认证服务的弱密码规则一致
const minPasswordLength = 6

// birthdayLayouts 生日输入格式（YYYY/MM/DD 或 YYYY-MM-DD）
var birthdayLayouts = []string{"2006/01/02", domain.DateLayout}

// AccountService 账号管理（admin）与证件照查看
type AccountService interface {
	CreateAccount(ctx context.Context, sess *domain.Session, req CreateAccountRequest) (*domain.Account, error)
	ListAccounts(ctx context.Context, sess *domain.Session, req ListAccountsRequest) ([]*domain.Account, error)
	GetAccount(ctx context.Context, sess *domain.Session, accountID string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, sess *domain.Session, accountID string, req UpdateAccountRequest) (*domain.Account, error)
	// UploadPhotos 替换 patient 证件照（未提供的一面保持不变）
	UploadPhotos(ctx context.Context, sess *domain.Session, accountID string, req PhotoUpload) (*domain.Account, error)
	// ListPatients 分配对话框使用的 patient 选择列表
	ListPatients(ctx context.Context, sess *domain.Session, search string) ([]*domain.Account, error)
	// GetIDPhotos caretaker 查看已分配 patient 的证件照，patient 查看自己的
	GetIDPhotos(ctx context.Context, sess *domain.Session) (*domain.IDPhotos, error)
	// EnsureAdmin 初始化管理员账号（已存在则跳过）
	EnsureAdmin(ctx context.Context, email, password string) error
}

// CreateAccountRequest 创建账号请求
type CreateAccountRequest struct {
	Name              string
	Email             string
	Password          string
	Role              string // "admin" | "caretaker" | "patient"
	Gender            string // "male" | "female"
	Birthday          string // 仅 patient，必填
	AssignedPatientID string // 仅 caretaker，可选
	Photos            PhotoUpload
}

// PhotoUpload 证件照（JPEG 原始数据）
type PhotoUpload struct {
	Front []byte
	Back  []byte
}

// ListAccountsRequest 账号列表请求
type ListAccountsRequest struct {
	Search string
	Role   string // 可选
}

// UpdateAccountRequest 编辑 name / email
type UpdateAccountRequest struct {
	Name  string
	Email string
}

type accountService struct {
	accounts repository.AccountsRepository
	images   ImageUploader
	logger   *zap.Logger
	now      func() time.Time
}

// NewAccountService 创建 AccountService 实例；images 为 nil 时不支持证件照上传
func NewAccountService(accounts repository.AccountsRepository, images ImageUploader, logger *zap.Logger) AccountService {
	return &accountService{
		accounts: accounts,
		images:   images,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *accountService) CreateAccount(ctx context.Context, sess *domain.Session, req CreateAccountRequest) (*domain.Account, error) {
	if err := requireRole(sess, domain.RoleAdmin); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationf("name is required")
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, validationf("password must be at least %d characters", minPasswordLength)
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		return nil, validationf("role must be admin, caretaker or patient")
	}
	gender := strings.ToLower(strings.TrimSpace(req.Gender))
	if gender != "male" && gender != "female" {
		return nil, validationf("gender must be male or female")
	}

	account := &domain.Account{
		Name:   name,
		Email:  email,
		Role:   role,
		Gender: gender,
	}

	switch role {
	case domain.RolePatient:
		birthday, err := s.checkPatientBirthday(req.Birthday)
		if err != nil {
			return nil, err
		}
		account.Birthday = sql.NullString{String: birthday, Valid: true}
	case domain.RoleCaretaker:
		if id := strings.TrimSpace(req.AssignedPatientID); id != "" {
			if err := checkPatientRef(ctx, s.accounts, id); err != nil {
				return nil, err
			}
			account.AssignedPatientID = sql.NullString{String: id, Valid: true}
		}
	case domain.RoleAdmin:
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	account.PasswordHash = hash

	// 证件照先上传，失败则不创建账号
	if role == domain.RolePatient {
		front, back, err := s.uploadPhotos(ctx, email, req.Photos)
		if err != nil {
			return nil, err
		}
		account.FrontPhoto, account.BackPhoto = front, back
	}

	if _, err := s.accounts.CreateAccount(ctx, account); err != nil {
		s.logger.Error("Failed to create account", zap.String("email", email), zap.Error(err))
		return nil, storeErr(err, "create account")
	}

	s.logger.Info("Account created",
		zap.String("account_id", account.AccountID),
		zap.String("role", role.String()),
		zap.String("admin_id", sess.AccountID),
	)
	return account, nil
}

// checkPatientBirthday 校验生日格式与最低年龄，返回 YYYY-MM-DD
func (s *accountService) checkPatientBirthday(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", validationf("birthday is required for patients")
	}
	var birthday time.Time
	var err error
	for _, layout := range birthdayLayouts {
		birthday, err = time.Parse(layout, raw)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", validationf("birthday must be YYYY/MM/DD")
	}
	if age := ageOn(birthday, s.now()); age < MinPatientAge {
		return "", validationf("patient must be at least %d years old", MinPatientAge)
	}
	return birthday.Format(domain.DateLayout), nil
}

// ageOn 计算周岁
func ageOn(birthday, now time.Time) int {
	age := now.Year() - birthday.Year()
	if now.Month() < birthday.Month() || (now.Month() == birthday.Month() && now.Day() < birthday.Day()) {
		age--
	}
	return age
}

func (s *accountService) uploadPhotos(ctx context.Context, email string, photos PhotoUpload) (sql.NullString, sql.NullString, error) {
	var front, back sql.NullString
	if len(photos.Front) == 0 && len(photos.Back) == 0 {
		return front, back, nil
	}
	if s.images == nil {
		return front, back, validationf("image upload is not configured")
	}
	if len(photos.Front) > 0 {
		url, err := s.images.Upload(ctx, email+"-front.jpg", photos.Front)
		if err != nil {
			return front, back, err
		}
		front = sql.NullString{String: url, Valid: true}
	}
	if len(photos.Back) > 0 {
		url, err := s.images.Upload(ctx, email+"-back.jpg", photos.Back)
		if err != nil {
			return front, back, err
		}
		back = sql.NullString{String: url, Valid: true}
	}
	return front, back, nil
}

func (s *accountService) ListAccounts(ctx context.Context, sess *domain.Session, req ListAccountsRequest) ([]*domain.Account, error) {
	if err := requireRole(sess, domain.RoleAdmin); err != nil {
		return nil, err
	}
	filters := repository.AccountFilters{Search: strings.TrimSpace(req.Search)}
	if strings.TrimSpace(req.Role) != "" {
		role, err := domain.ParseRole(req.Role)
		if err != nil {
			return nil, validationf("unknown role filter %q", req.Role)
		}
		filters.Role = role
	}
	out, err := s.accounts.ListAccounts(ctx, filters)
	if err != nil {
		return nil, storeErr(err, "list accounts")
	}
	return out, nil
}

func (s *accountService) GetAccount(ctx context.Context, sess *domain.Session, accountID string) (*domain.Account, error) {
	if err := requireRole(sess, domain.RoleAdmin); err != nil {
		return nil, err
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, storeErr(err, "account "+accountID)
	}
	return account, nil
}

func (s *accountService) UpdateAccount(ctx context.Context, sess *domain.Session, accountID string, req UpdateAccountRequest) (*domain.Account, error) {
	if err := requireRole(sess, domain.RoleAdmin); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationf("name is required")
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.UpdateProfile(ctx, accountID, name, email); err != nil {
		return nil, storeErr(err, "account "+accountID)
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, storeErr(err, "account "+accountID)
	}
	return account, nil
}

func (s *accountService) UploadPhotos(ctx context.Context, sess *domain.Session, accountID string, req PhotoUpload) (*domain.Account, error) {
	if err := requireRole(sess, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if len(req.Front) == 0 && len(req.Back) == 0 {
		return nil, validationf("front or back photo is required")
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, storeErr(err, "account "+accountID)
	}
	if account.Role != domain.RolePatient {
		return nil, validationf("only patients have ID photos")
	}

	front, back, err := s.uploadPhotos(ctx, account.Email, req)
	if err != nil {
		return nil, err
	}
	if !front.Valid {
		front = account.FrontPhoto
	}
	if !back.Valid {
		back = account.BackPhoto
	}
	if err := s.accounts.SetPhotos(ctx, accountID, front, back); err != nil {
		return nil, storeErr(err, "account "+accountID)
	}
	account.FrontPhoto, account.BackPhoto = front, back
	return account, nil
}

func (s *accountService) ListPatients(ctx context.Context, sess *domain.Session, search string) ([]*domain.Account, error) {
	if err := requireRole(sess, domain.RoleAdmin); err != nil {
		return nil, err
	}
	out, err := s.accounts.ListAccounts(ctx, repository.AccountFilters{
		Role:   domain.RolePatient,
		Search: strings.TrimSpace(search),
	})
	if err != nil {
		return nil, storeErr(err, "list patients")
	}
	return out, nil
}

func (s *accountService) GetIDPhotos(ctx context.Context, sess *domain.Session) (*domain.IDPhotos, error) {
	if err := requireRole(sess, domain.RoleCaretaker, domain.RolePatient); err != nil {
		return nil, err
	}
	patientID := sess.AccountID
	if sess.Role == domain.RoleCaretaker {
		caretaker, err := s.accounts.GetAccount(ctx, sess.AccountID)
		if err != nil {
			return nil, storeErr(err, "caretaker "+sess.AccountID)
		}
		if !caretaker.AssignedPatientID.Valid {
			return nil, storeErr(sql.ErrNoRows, "assigned patient")
		}
		patientID = caretaker.AssignedPatientID.String
	}

	patient, err := s.accounts.GetAccount(ctx, patientID)
	if err != nil {
		return nil, storeErr(err, "patient "+patientID)
	}
	return &domain.IDPhotos{
		PatientID:   patient.AccountID,
		PatientName: patient.Name,
		FrontURL:    patient.FrontPhoto.String,
		BackURL:     patient.BackPhoto.String,
	}, nil
}

func (s *accountService) EnsureAdmin(ctx context.Context, email, password string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if _, err := s.accounts.GetAccountByEmail(ctx, email); err == nil {
		return nil
	} else if !isNotFound(err) {
		return storeErr(err, "admin lookup")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.accounts.CreateAccount(ctx, &domain.Account{
		Name:         "Administrator",
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Gender:       "male",
	})
	if err != nil {
		return storeErr(err, "seed admin")
	}
	s.logger.Info("Seeded admin account", zap.String("email", email))
	return nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", validationf("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", validationf("invalid email %q", raw)
	}
	return email, nil
}
