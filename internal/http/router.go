package httpapi

import (
	"net/http"

	"github.com/Gil-rei/Senzen/internal/domain"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（路径参数用 {id} 模式 + r.PathValue）
type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	logger  *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	mux := http.NewServeMux()
	return &Router{
		mux:     mux,
		handler: instrument(mux),
		logger:  logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// methods 按请求方法分发，其余返回 405
func methods(handlers map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.Method]
		if !ok {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (r *Router) RegisterHealthRoutes() {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

func (r *Router) RegisterAuthRoutes(h *AuthHandler, m *SessionMiddleware) {
	r.Handle("/auth/api/v1/login", methods(map[string]http.HandlerFunc{
		http.MethodPost: h.Login,
	}))
	r.Handle("/auth/api/v1/logout", methods(map[string]http.HandlerFunc{
		http.MethodPost: h.Logout,
	}))
	r.Handle("/auth/api/v1/me", methods(map[string]http.HandlerFunc{
		http.MethodGet: m.Require(h.Me),
	}))
}

// RegisterAdminRoutes 账号管理，仅 admin
func (r *Router) RegisterAdminRoutes(h *AccountHandler, m *SessionMiddleware) {
	admin := func(f http.HandlerFunc) http.HandlerFunc { return m.Require(f, domain.RoleAdmin) }

	r.Handle("/admin/api/v1/accounts", methods(map[string]http.HandlerFunc{
		http.MethodGet:  admin(h.ListAccounts),
		http.MethodPost: admin(h.CreateAccount),
	}))
	r.Handle("/admin/api/v1/accounts/{id}", methods(map[string]http.HandlerFunc{
		http.MethodGet: admin(h.GetAccount),
		http.MethodPut: admin(h.UpdateAccount),
	}))
	r.Handle("/admin/api/v1/accounts/{id}/assignment", methods(map[string]http.HandlerFunc{
		http.MethodPut: admin(h.SetAssignment),
	}))
	r.Handle("/admin/api/v1/accounts/{id}/photos", methods(map[string]http.HandlerFunc{
		http.MethodPost: admin(h.UploadPhotos),
	}))
	r.Handle("/admin/api/v1/patients", methods(map[string]http.HandlerFunc{
		http.MethodGet: admin(h.ListPatients),
	}))
}

// RegisterCareRoutes caretaker：任务、账目、证件照
func (r *Router) RegisterCareRoutes(tasks *TaskHandler, recites *ReciteHandler, accounts *AccountHandler, m *SessionMiddleware) {
	care := func(f http.HandlerFunc) http.HandlerFunc { return m.Require(f, domain.RoleCaretaker) }

	r.Handle("/care/api/v1/tasks", methods(map[string]http.HandlerFunc{
		http.MethodGet:  care(tasks.List),
		http.MethodPost: care(tasks.Create),
	}))
	r.Handle("/care/api/v1/tasks/stream", methods(map[string]http.HandlerFunc{
		http.MethodGet: care(tasks.Stream),
	}))
	r.Handle("/care/api/v1/tasks/{id}", methods(map[string]http.HandlerFunc{
		http.MethodPut:    care(tasks.Update),
		http.MethodDelete: care(tasks.Delete),
	}))

	r.Handle("/care/api/v1/recites", methods(map[string]http.HandlerFunc{
		http.MethodGet:  care(recites.List),
		http.MethodPost: care(recites.Create),
	}))
	r.Handle("/care/api/v1/recites/export", methods(map[string]http.HandlerFunc{
		http.MethodGet: care(recites.Export),
	}))
	r.Handle("/care/api/v1/recites/{id}", methods(map[string]http.HandlerFunc{
		http.MethodPut:    care(recites.Update),
		http.MethodDelete: care(recites.Delete),
	}))

	r.Handle("/care/api/v1/patient/photos", methods(map[string]http.HandlerFunc{
		http.MethodGet: care(accounts.IDPhotos),
	}))
}

// RegisterPatientRoutes patient：自己的任务与证件照
func (r *Router) RegisterPatientRoutes(tasks *TaskHandler, accounts *AccountHandler, m *SessionMiddleware) {
	patient := func(f http.HandlerFunc) http.HandlerFunc { return m.Require(f, domain.RolePatient) }

	r.Handle("/patient/api/v1/tasks", methods(map[string]http.HandlerFunc{
		http.MethodGet: patient(tasks.List),
	}))
	r.Handle("/patient/api/v1/tasks/stream", methods(map[string]http.HandlerFunc{
		http.MethodGet: patient(tasks.Stream),
	}))
	r.Handle("/patient/api/v1/tasks/{id}/done", methods(map[string]http.HandlerFunc{
		http.MethodPost: patient(tasks.SetDone),
	}))
	r.Handle("/patient/api/v1/photos", methods(map[string]http.HandlerFunc{
		http.MethodGet: patient(accounts.IDPhotos),
	}))
}
