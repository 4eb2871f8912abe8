package users

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

	"github.com/mbd888/rekberpay/internal/auth"
	"github.com/mbd888/rekberpay/internal/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *testEnv, *auth.Issuer) {
	t.Helper()
	env := newTestEnv(t)
	issuer := auth.NewIssuer("test-secret-that-is-long-enough", time.Hour)
	h := NewHandler(env.svc).WithIssuer(issuer)

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	protected := v1.Group("", auth.Middleware(issuer), auth.RequireAuth())
	h.RegisterProtectedRoutes(protected)
	return r, env, issuer
}

func do(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_DevLoginAndProfile(t *testing.T) {
	r, _, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/v1/auth/dev-login", "", map[string]any{"openId": "alice", "name": "Alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var login struct {
		User  User   `json:"user"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	assert.Equal(t, "dev", login.User.LoginMethod)

	w = do(r, http.MethodGet, "/v1/users/me", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"openId":"alice"`)

	w = do(r, http.MethodPatch, "/v1/users/me", login.Token, map[string]any{"bio": "collector"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"bio":"collector"`)

	w = do(r, http.MethodPost, "/v1/users/me/kyc", login.Token, map[string]any{
		"idType": "passport", "idNumber": "A123", "fullName": "Alice",
		"dateOfBirth": "1990-01-01", "address": "Bandung",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "A123")

	w = do(r, http.MethodPost, "/v1/users/me/payment-methods", login.Token, map[string]any{
		"type": "e_wallet", "provider": "ovo", "encryptedData": "secret-blob",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret-blob")

	w = do(r, http.MethodGet, "/v1/users/me/payment-methods", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandler_Errors(t *testing.T) {
	r, env, issuer := setupRouter(t)
	u := env.login(t, "alice", "")
	token, _, err := issuer.Issue(u.Actor())
	require.NoError(t, err)
	ghost, _, err := issuer.Issue(identity.User(77))
	require.NoError(t, err)

	kyc := map[string]any{
		"idType": "ktp", "idNumber": "1", "fullName": "A",
		"dateOfBirth": "1990-01-01", "address": "x",
	}
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/users/me/kyc", token, kyc).Code)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"unauthenticated", http.MethodGet, "/v1/users/me", "", nil, http.StatusUnauthorized, ""},
		{"unknown user", http.MethodGet, "/v1/users/me", ghost, nil, http.StatusNotFound, "not_found"},
		{"bad body", http.MethodPatch, "/v1/users/me", token, "[", http.StatusBadRequest, "invalid_request"},
		{"kyc pending", http.MethodPost, "/v1/users/me/kyc", token, kyc, http.StatusConflict, "invalid_state"},
		{"bad method", http.MethodPost, "/v1/users/me/payment-methods", token, map[string]any{"type": "cash"}, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.path, tt.token, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.code == "" {
				return
			}
			var out map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
			assert.Equal(t, tt.code, out["error"])
		})
	}
}

func TestHandler_DevLoginDisabledWithoutIssuer(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	NewHandler(env.svc).RegisterRoutes(r.Group("/v1"))

	w := do(r, http.MethodPost, "/v1/auth/dev-login", "", map[string]any{"openId": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
