package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/repository"
	"github.com/Gil-rei/Senzen/internal/service"
	"github.com/Gil-rei/Senzen/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUploader struct {
	mu    sync.Mutex
	names []string
}

func (u *fakeUploader) Upload(_ context.Context, filename string, _ []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.names = append(u.names, filename)
	return "https://img.test/" + filename, nil
}

// testEnv 内存仓储 + 真实服务层 + 完整路由
type testEnv struct {
	router   *Router
	accounts *repository.MemoryAccountsRepo
	tasks    *repository.MemoryTasksRepo
	uploader *fakeUploader
	auth     service.AuthService

	adminID, patientID, caretakerID string
}

const (
	adminToken     = "tok-admin"
	patientToken   = "tok-patient"
	caretakerToken = "tok-caretaker"
	loneToken      = "tok-lone"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	env := &testEnv{
		accounts: repository.NewMemoryAccountsRepo(),
		tasks:    repository.NewMemoryTasksRepo(),
		uploader: &fakeUploader{},
	}
	kv := store.NewMemoryKV()
	feed := store.NewMemoryTaskFeed(0, 0)

	var err error
	env.adminID, err = env.accounts.CreateAccount(ctx, &domain.Account{Name: "Admin", Email: "admin@senzen.com", Role: domain.RoleAdmin})
	require.NoError(t, err)
	env.patientID, err = env.accounts.CreateAccount(ctx, &domain.Account{
		Name:       "Alice",
		Email:      "alice@senzen.com",
		Role:       domain.RolePatient,
		Gender:     "female",
		Birthday:   sql.NullString{String: "1948-06-01", Valid: true},
		FrontPhoto: sql.NullString{String: "https://img.test/front.jpg", Valid: true},
		BackPhoto:  sql.NullString{String: "https://img.test/back.jpg", Valid: true},
	})
	require.NoError(t, err)
	env.caretakerID, err = env.accounts.CreateAccount(ctx, &domain.Account{
		Name:              "Bob",
		Email:             "bob@senzen.com",
		Role:              domain.RoleCaretaker,
		AssignedPatientID: sql.NullString{String: env.patientID, Valid: true},
	})
	require.NoError(t, err)
	loneID, err := env.accounts.CreateAccount(ctx, &domain.Account{Name: "Carol", Email: "carol@senzen.com", Role: domain.RoleCaretaker})
	require.NoError(t, err)

	sessions := service.NewSessionStore(kv, "senzen:session:", time.Hour)
	expires := time.Now().Add(time.Hour)
	for token, sess := range map[string]domain.Session{
		adminToken:     {AccountID: env.adminID, Role: domain.RoleAdmin},
		patientToken:   {AccountID: env.patientID, Role: domain.RolePatient},
		caretakerToken: {AccountID: env.caretakerID, Role: domain.RoleCaretaker},
		loneToken:      {AccountID: loneID, Role: domain.RoleCaretaker},
	} {
		sess.Token = token
		sess.ExpiresAt = expires
		require.NoError(t, sessions.Save(ctx, &sess))
	}

	env.auth = service.NewAuthService(env.accounts, sessions, time.Hour, logger)
	assignments := service.NewAssignmentService(env.accounts, logger)
	accounts := service.NewAccountService(env.accounts, env.uploader, logger)
	taskSvc := service.NewTaskService(env.tasks, assignments, feed, nil, service.TaskServiceOptions{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}, logger)
	ledger := service.NewLedgerService(repository.NewMemoryRecitesRepo(), assignments, kv, time.Minute, "senzen:recites:", logger)

	mw := NewSessionMiddleware(env.auth, logger)
	accountHandler := NewAccountHandler(accounts, assignments, logger)
	taskHandler := NewTaskHandler(taskSvc, logger)
	taskHandler.heartbeat = 50 * time.Millisecond

	env.router = NewRouter(logger)
	env.router.RegisterHealthRoutes()
	env.router.RegisterAuthRoutes(NewAuthHandler(env.auth, logger), mw)
	env.router.RegisterAdminRoutes(accountHandler, mw)
	env.router.RegisterCareRoutes(taskHandler, NewReciteHandler(ledger, logger), accountHandler, mw)
	env.router.RegisterPatientRoutes(taskHandler, accountHandler, mw)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// decodeResult 解析 Result 包，result 字段写入 out
func decodeResult(t *testing.T, rec *httptest.ResponseRecorder, out any) Result[json.RawMessage] {
	t.Helper()
	var res Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(res.Result, out))
	}
	return res
}
