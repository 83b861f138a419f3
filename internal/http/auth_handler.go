package httpapi

import (
	"net/http"

	"github.com/Gil-rei/Senzen/internal/service"

	"go.uber.org/zap"
)

// AuthHandler 登录 / 登出 / 当前会话
type AuthHandler struct {
	auth   service.AuthService
	logger *zap.Logger
}

func NewAuthHandler(auth service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login POST /auth/api/v1/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := readBodyJSON(r, maxJSONBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	resp, err := h.auth.Login(r.Context(), service.LoginRequest{
		Email:     body.Email,
		Password:  body.Password,
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// Logout POST /auth/api/v1/logout（token 不存在也视为成功）
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// Me GET /auth/api/v1/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"userId":    sess.AccountID,
		"role":      sess.Role,
		"homePath":  sess.Role.HomePath(),
		"expiresAt": sess.ExpiresAt,
	}))
}
