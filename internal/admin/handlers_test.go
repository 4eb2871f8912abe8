package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/rekberpay/internal/audit"
	"github.com/mbd888/rekberpay/internal/auth"
	"github.com/mbd888/rekberpay/internal/dispute"
	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/fees"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/reconciliation"
	"github.com/mbd888/rekberpay/internal/txn"
	"github.com/mbd888/rekberpay/internal/users"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubEscrows struct {
	list  []*escrow.Escrow
	stats *escrow.Stats
}

func (s *stubEscrows) ListAll(_ context.Context, limit, offset int) ([]*escrow.Escrow, error) {
	if offset >= len(s.list) {
		return nil, nil
	}
	end := min(offset+limit, len(s.list))
	return s.list[offset:end], nil
}

func (s *stubEscrows) Stats(context.Context) (*escrow.Stats, error) { return s.stats, nil }

type stubDisputes struct {
	gotStatus dispute.Status
}

func (s *stubDisputes) List(_ context.Context, status dispute.Status, _, _ int) ([]*dispute.Dispute, error) {
	s.gotStatus = status
	return []*dispute.Dispute{{ID: "dsp_1", Status: dispute.StatusOpen}}, nil
}

type stubReconciler struct {
	last *reconciliation.Report
	err  error
}

func (s *stubReconciler) RunAll(context.Context) (*reconciliation.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.last = &reconciliation.Report{WalletsChecked: 3, Healthy: true}
	return s.last, nil
}

func (s *stubReconciler) Last() *reconciliation.Report { return s.last }

type testEnv struct {
	router     *gin.Engine
	users      *users.Service
	audits     *audit.MemoryStore
	disputes   *stubDisputes
	reconciler *stubReconciler
	admin      *users.User
	member     *users.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		audits:     audit.NewMemoryStore(),
		disputes:   &stubDisputes{},
		reconciler: &stubReconciler{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := audit.NewLog(env.audits)
	fx := effects.NewRunner(log, nil, logger)

	store := users.NewMemoryStore()
	env.users = users.NewService(store, store.BlacklistStore(), store.PaymentMethodStore(), txn.NewMemoryRunner()).
		WithEffects(fx).
		WithLogger(logger)
	schedule := fees.NewSchedule(fees.NewMemoryStore(), txn.NewMemoryRunner()).WithEffects(fx)

	ctx := context.Background()
	var err error
	env.admin, err = env.users.Login(ctx, users.LoginRequest{OpenID: "root", Name: "Root", Role: identity.RoleAdmin})
	require.NoError(t, err)
	env.member, err = env.users.Login(ctx, users.LoginRequest{OpenID: "budi", Name: "Budi"})
	require.NoError(t, err)

	escrows := &stubEscrows{
		list: []*escrow.Escrow{{ID: "esc_1"}, {ID: "esc_2"}, {ID: "esc_3"}},
		stats: &escrow.Stats{
			TotalEscrows:   3,
			TotalVolume:    1_500_000,
			AverageAmount:  500_000,
			CompletedCount: 1,
			DisputedCount:  1,
		},
	}
	h := NewHandler(env.users, escrows, env.disputes).
		WithAuditLog(log).
		WithFeeSchedule(schedule).
		WithReconciler(env.reconciler)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id, err := strconv.ParseInt(c.GetHeader("X-Test-User"), 10, 64); err == nil {
			role := identity.RoleUser
			if id == env.admin.ID {
				role = identity.RoleAdmin
			}
			auth.SetActor(c, identity.Actor{UserID: id, Role: role})
		}
		c.Next()
	})
	h.RegisterRoutes(r.Group("/v1", auth.RequireRole(identity.RoleAdmin)))
	env.router = r
	return env
}

func (env *testEnv) do(method, path string, userID int64, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-Test-User", strconv.FormatInt(userID, 10))
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/v1/admin/users", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/v1/admin/users", env.member.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_ListUsers(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/v1/admin/users?limit=1", env.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestAdmin_FreezeAndUnfreeze(t *testing.T) {
	env := newTestEnv(t)
	path := "/v1/admin/users/" + strconv.FormatInt(env.member.ID, 10)

	w := env.do(http.MethodPost, path+"/freeze", env.admin.ID, map[string]string{"reason": "chargeback fraud"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var frozen struct {
		User users.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &frozen))
	assert.True(t, frozen.User.IsFrozen)
	assert.Equal(t, "chargeback fraud", frozen.User.FrozenReason)

	w = env.do(http.MethodPost, path+"/freeze", env.admin.ID, map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, path+"/unfreeze", env.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodPost, path+"/unfreeze", env.admin.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Both changes land in the audit trail, newest first.
	w = env.do(http.MethodGet, "/v1/admin/audit-logs?entityType=user&entityId="+strconv.FormatInt(env.member.ID, 10), env.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs struct {
		AuditLogs []audit.Entry `json:"auditLogs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs.AuditLogs, 2)
	assert.Equal(t, "unfrozen", logs.AuditLogs[0].Action)
	assert.Equal(t, "frozen", logs.AuditLogs[1].Action)
}

func TestAdmin_FreezeValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/v1/admin/users/abc/freeze", env.admin.ID, map[string]string{"reason": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/v1/admin/users/999/freeze", env.admin.ID, map[string]string{"reason": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/v1/admin/users/"+strconv.FormatInt(env.member.ID, 10)+"/freeze", env.admin.ID, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode(t, w)["error"])
}

func TestAdmin_EscrowsDisputesStats(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/v1/admin/escrows?limit=2&offset=1", env.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = env.do(http.MethodGet, "/v1/admin/disputes?status=open", env.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dispute.StatusOpen, env.disputes.gotStatus)

	w = env.do(http.MethodGet, "/v1/admin/stats", env.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats escrow.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(500_000), stats.AverageAmount)
	assert.Equal(t, int64(1), stats.DisputedCount)
}

func TestAdmin_Fees(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/v1/admin/fees", env.admin.ID, map[string]any{
		"name":          "platform-standard",
		"percentageBps": 250,
		"kind":          "platform",
		"currency":      "IDR",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/v1/admin/fees", env.admin.ID, map[string]any{"name": "", "kind": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/v1/admin/fees", env.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestAdmin_Blacklist(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/v1/admin/blacklist", env.admin.ID, map[string]any{
		"entryType":  "email",
		"entryValue": "Scammer@Example.com",
		"reason":     "reported by three buyers",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Entry users.BlacklistEntry `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "scammer@example.com", created.Entry.Value)

	w = env.do(http.MethodGet, "/v1/admin/blacklist", env.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = env.do(http.MethodDelete, "/v1/admin/blacklist/"+created.Entry.ID, env.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodDelete, "/v1/admin/blacklist/missing", env.admin.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_Reconcile(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/v1/admin/reconcile", env.admin.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/v1/admin/reconcile", env.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Report reconciliation.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 3, got.Report.WalletsChecked)
	assert.True(t, got.Report.Healthy)

	w = env.do(http.MethodGet, "/v1/admin/reconcile", env.admin.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	env.reconciler.err = errors.New("db down")
	w = env.do(http.MethodPost, "/v1/admin/reconcile", env.admin.ID, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", decode(t, w)["error"])
}

func TestAdmin_NotConfigured(t *testing.T) {
	h := NewHandler(nil, nil, nil)
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))

	for _, path := range []string{"/v1/admin/audit-logs", "/v1/admin/fees"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/admin/reconcile", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
