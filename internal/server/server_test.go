package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/rekberpay/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		LogFormat:         "json",
		JWTSecret:         "test-secret-with-enough-length-0123456789",
		JWTTTL:            time.Hour,
		PaymentBaseURL:    "https://payment.example.test",
		PaymentWindow:     72 * time.Hour,
		DefaultCurrency:   "IDR",
		RateLimitRPM:      6000,
		RateLimitBurst:    1000,
		CORSOrigins:       []string{"*"},
		ExpiryInterval:    time.Minute,
		ReconcileInterval: 10 * time.Minute,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.rateLimiter.Stop() })
	return s
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

type loginResult struct {
	User struct {
		ID int64 `json:"id"`
	} `json:"user"`
	Token string `json:"token"`
}

func login(t *testing.T, s *Server, openID, role string) loginResult {
	t.Helper()
	w := do(t, s, http.MethodPost, "/v1/auth/dev-login", "", gin.H{
		"openId": openID,
		"name":   openID,
		"role":   role,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out loginResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	require.NotZero(t, out.User.ID)
	return out
}

type escrowBody struct {
	Escrow struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"escrow"`
}

func decodeEscrow(t *testing.T, w *httptest.ResponseRecorder) escrowBody {
	t.Helper()
	var out escrowBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run has started the listener.
	w = do(t, s, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, s, http.MethodGet, "/health", "", nil)
	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Checks  []struct {
			Name string `json:"name"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, Version, resp.Version)
	var names []string
	for _, c := range resp.Checks {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "reconciliation")
	assert.NotContains(t, names, "database")
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health/live", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/v1/escrows", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodGet, "/v1/users/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newTestServer(t)
	user := login(t, s, "user-1", "user")
	admin := login(t, s, "admin-1", "admin")

	w := do(t, s, http.MethodGet, "/v1/admin/stats", user.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, s, http.MethodGet, "/v1/admin/stats", admin.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestEscrowFlow(t *testing.T) {
	s := newTestServer(t)
	buyer := login(t, s, "buyer-1", "user")
	seller := login(t, s, "seller-1", "user")

	w := do(t, s, http.MethodPost, "/v1/escrows", buyer.Token, gin.H{
		"title":            "Used camera",
		"amount":           1_000_000,
		"sellerId":         seller.User.ID,
		"releaseCondition": "manual",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeEscrow(t, w)
	assert.Equal(t, "created", created.Escrow.Status)
	id := created.Escrow.ID

	w = do(t, s, http.MethodPost, "/v1/escrows/"+id+"/initiate-payment", buyer.Token, gin.H{
		"paymentMethod": "bank_transfer",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Only the buyer or an admin may confirm.
	w = do(t, s, http.MethodPost, "/v1/escrows/"+id+"/confirm-payment", seller.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, s, http.MethodPost, "/v1/escrows/"+id+"/confirm-payment", buyer.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "funded", decodeEscrow(t, w).Escrow.Status)

	w = do(t, s, http.MethodPost, "/v1/escrows/"+id+"/start", seller.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "in_progress", decodeEscrow(t, w).Escrow.Status)

	w = do(t, s, http.MethodPost, "/v1/escrows/"+id+"/release", buyer.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", decodeEscrow(t, w).Escrow.Status)

	w = do(t, s, http.MethodGet, "/v1/escrows/"+id+"/transactions", buyer.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The completed escrow leaves ledger and wallets in agreement.
	admin := login(t, s, "admin-1", "admin")
	w = do(t, s, http.MethodPost, "/v1/admin/reconcile", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Report struct {
			Healthy bool `json:"healthy"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Report.Healthy, w.Body.String())
}

func TestCreateEscrowValidation(t *testing.T) {
	s := newTestServer(t)
	buyer := login(t, s, "buyer-1", "user")

	w := do(t, s, http.MethodPost, "/v1/escrows", buyer.Token, gin.H{
		"title":            "",
		"amount":           0,
		"sellerId":         0,
		"releaseCondition": "manual",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
