package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/metrics"
	"github.com/Gil-rei/Senzen/internal/service"

	"go.uber.org/zap"
)

type ctxKey int

const sessionKey ctxKey = iota

// sessionFrom 取出 requireSession 注入的会话
func sessionFrom(ctx context.Context) *domain.Session {
	sess, _ := ctx.Value(sessionKey).(*domain.Session)
	return sess
}

// SessionMiddleware 解析 Bearer token 并按角色放行
type SessionMiddleware struct {
	auth   service.AuthService
	logger *zap.Logger
}

func NewSessionMiddleware(auth service.AuthService, logger *zap.Logger) *SessionMiddleware {
	return &SessionMiddleware{auth: auth, logger: logger}
}

// Require roles 为空时只要求登录
func (m *SessionMiddleware) Require(h http.HandlerFunc, roles ...domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.auth.Resolve(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if len(roles) > 0 {
			allowed := false
			for _, role := range roles {
				if sess.Role == role {
					allowed = true
					break
				}
			}
			if !allowed {
				m.logger.Warn("Role not allowed",
					zap.String("account_id", sess.AccountID),
					zap.String("role", sess.Role.String()),
					zap.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusForbidden, Fail("forbidden"))
				return
			}
		}
		h(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	}
}

// statusRecorder 记录状态码；转发 Flush 以支持 SSE
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeGroup 取路径第一段作为指标标签（auth / admin / care / patient ...）
func routeGroup(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	switch path {
	case "auth", "admin", "care", "patient", "health", "metrics":
		return path
	default:
		return "other"
	}
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(routeGroup(r.URL.Path), strconv.Itoa(rec.status)).Inc()
	})
}
