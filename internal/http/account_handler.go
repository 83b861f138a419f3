package httpapi

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/service"

	"go.uber.org/zap"
)

const (
	maxPhotoBytes     = 10 << 20
	maxMultipartBytes = 2*maxPhotoBytes + 1<<20
)

// AccountHandler 账号管理 + 证件照
type AccountHandler struct {
	accounts    service.AccountService
	assignments service.AssignmentService
	logger      *zap.Logger
}

func NewAccountHandler(accounts service.AccountService, assignments service.AssignmentService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, assignments: assignments, logger: logger}
}

type createAccountBody struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	Password          string `json:"password"`
	Role              string `json:"role"`
	Gender            string `json:"gender"`
	Birthday          string `json:"birthday"`
	AssignedPatientID string `json:"assignedPatientId"`
}

func views(accounts []*domain.Account) []domain.AccountView {
	out := make([]domain.AccountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.View())
	}
	return out
}

// ListAccounts GET /admin/api/v1/accounts?search=&role=
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accounts, err := h.accounts.ListAccounts(r.Context(), sessionFrom(r.Context()), service.ListAccountsRequest{
		Search: q.Get("search"),
		Role:   q.Get("role"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": views(accounts),
		"total": len(accounts),
	}))
}

// CreateAccount POST /admin/api/v1/accounts
// 支持 application/json 与 multipart/form-data（patient 可同时上传 front / back 证件照）
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var (
		body   createAccountBody
		photos service.PhotoUpload
	)
	if isMultipart(r) {
		form, err := parseMultipart(w, r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		body = createAccountBody{
			Name:              form.value("name"),
			Email:             form.value("email"),
			Password:          form.value("password"),
			Role:              form.value("role"),
			Gender:            form.value("gender"),
			Birthday:          form.value("birthday"),
			AssignedPatientID: form.value("assignedPatientId"),
		}
		if photos, err = form.photos(); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
	} else if err := readBodyJSON(r, maxJSONBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	acc, err := h.accounts.CreateAccount(r.Context(), sessionFrom(r.Context()), service.CreateAccountRequest{
		Name:              body.Name,
		Email:             body.Email,
		Password:          body.Password,
		Role:              body.Role,
		Gender:            body.Gender,
		Birthday:          body.Birthday,
		AssignedPatientID: body.AssignedPatientID,
		Photos:            photos,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(acc.View()))
}

// GetAccount GET /admin/api/v1/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accounts.GetAccount(r.Context(), sessionFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(acc.View()))
}

// UpdateAccount PUT /admin/api/v1/accounts/{id}
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := readBodyJSON(r, maxJSONBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	acc, err := h.accounts.UpdateAccount(r.Context(), sessionFrom(r.Context()), r.PathValue("id"), service.UpdateAccountRequest{
		Name:  body.Name,
		Email: body.Email,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(acc.View()))
}

// SetAssignment PUT /admin/api/v1/accounts/{id}/assignment
// body: {"patientId": "..."}；patientId 为 null 时清除分配
func (h *AccountHandler) SetAssignment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PatientID *string `json:"patientId"`
	}
	if err := readBodyJSON(r, maxJSONBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	caretakerID := r.PathValue("id")
	if err := h.assignments.SetAssignment(r.Context(), sessionFrom(r.Context()), caretakerID, body.PatientID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"caretakerId": caretakerID,
		"patientId":   body.PatientID,
	}))
}

// UploadPhotos POST /admin/api/v1/accounts/{id}/photos（multipart：front / back）
func (h *AccountHandler) UploadPhotos(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		writeJSON(w, http.StatusBadRequest, Fail("multipart/form-data required"))
		return
	}
	form, err := parseMultipart(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	photos, err := form.photos()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	acc, err := h.accounts.UploadPhotos(r.Context(), sessionFrom(r.Context()), r.PathValue("id"), photos)
	if err != nil {
		if errorStatus(err) == http.StatusBadGateway {
			h.logger.Warn("Photo upload failed",
				zap.String("account_id", r.PathValue("id")),
				zap.Error(err),
			)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(acc.View()))
}

// ListPatients GET /admin/api/v1/patients?search=
func (h *AccountHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.accounts.ListPatients(r.Context(), sessionFrom(r.Context()), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": views(patients),
		"total": len(patients),
	}))
}

// IDPhotos caretaker 查看所分配 patient 的证件照；patient 查看自己的
func (h *AccountHandler) IDPhotos(w http.ResponseWriter, r *http.Request) {
	photos, err := h.accounts.GetIDPhotos(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(photos))
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

type multipartForm struct {
	*multipart.Form
}

func parseMultipart(w http.ResponseWriter, r *http.Request) (*multipartForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	return &multipartForm{Form: r.MultipartForm}, nil
}

func (f *multipartForm) value(key string) string {
	if v := f.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (f *multipartForm) photos() (service.PhotoUpload, error) {
	front, err := f.file("front")
	if err != nil {
		return service.PhotoUpload{}, err
	}
	back, err := f.file("back")
	if err != nil {
		return service.PhotoUpload{}, err
	}
	return service.PhotoUpload{Front: front, Back: back}, nil
}

// file 读取单个文件字段；字段缺失返回 nil
func (f *multipartForm) file(key string) ([]byte, error) {
	headers := f.File[key]
	if len(headers) == 0 {
		return nil, nil
	}
	fh := headers[0]
	if fh.Size > maxPhotoBytes {
		return nil, fmt.Errorf("%s photo exceeds %d bytes", key, maxPhotoBytes)
	}
	file, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return data, nil
}
