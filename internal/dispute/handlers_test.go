package dispute

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/rekberpay/internal/auth"
	"github.com/mbd888/rekberpay/internal/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func fakeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader("X-Test-User"); raw != "" {
			id, _ := strconv.ParseInt(raw, 10, 64)
			role := identity.Role(c.GetHeader("X-Test-Role"))
			if role == "" {
				role = identity.RoleUser
			}
			auth.SetActor(c, identity.Actor{UserID: id, Role: role})
		}
		c.Next()
	}
}

func setupRouter(t *testing.T) (*gin.Engine, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	r := gin.New()
	v1 := r.Group("/v1", fakeAuth(), auth.RequireAuth())
	NewHandler(env.svc).RegisterProtectedRoutes(v1)
	return r, env
}

func doJSON(r *gin.Engine, method, path string, actor identity.Actor, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", strconv.FormatInt(actor.UserID, 10))
	req.Header.Set("X-Test-Role", string(actor.Role))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_DisputeFlow(t *testing.T) {
	r, env := setupRouter(t)
	e := env.funded(t)

	w := doJSON(r, http.MethodPost, "/v1/disputes", seller, map[string]any{
		"escrowId": e.ID,
		"reason":   "buyer claims non-delivery",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var opened struct {
		Dispute Dispute `json:"dispute"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opened))
	id := opened.Dispute.ID

	w = doJSON(r, http.MethodGet, "/v1/escrows/"+e.ID+"/dispute", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPost, "/v1/disputes/"+id+"/messages", buyer, map[string]any{"message": "tracking says delivered"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, http.MethodGet, "/v1/disputes/"+id+"/messages", seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doJSON(r, http.MethodPost, "/v1/disputes/"+id+"/evidence", seller, map[string]any{
		"description": "courier receipt",
		"urls":        []string{"https://cdn.example.com/receipt.jpg"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPost, "/v1/disputes/"+id+"/mediator", admin, map[string]any{"mediatorId": mediatorID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"mediation"`)

	w = doJSON(r, http.MethodPost, "/v1/disputes/"+id+"/status", mediator, map[string]any{"status": "escalated"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPost, "/v1/disputes/"+id+"/resolve", mediator, map[string]any{
		"resolution":  "split",
		"sellerShare": 250_000,
		"details":     "half each",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"resolved"`)

	w = doJSON(r, http.MethodPost, "/v1/disputes/"+id+"/close", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"closed"`)
}

func TestHandler_ErrorMapping(t *testing.T) {
	r, env := setupRouter(t)
	e := env.funded(t)
	w := doJSON(r, http.MethodPost, "/v1/disputes", buyer, map[string]any{"escrowId": e.ID, "reason": "broken"})
	require.Equal(t, http.StatusCreated, w.Code)
	var opened struct {
		Dispute Dispute `json:"dispute"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opened))
	id := opened.Dispute.ID

	tests := []struct {
		name   string
		method string
		path   string
		actor  identity.Actor
		body   any
		status int
		code   string
	}{
		{"not found", http.MethodGet, "/v1/disputes/nope", buyer, nil, http.StatusNotFound, "not_found"},
		{"stranger view", http.MethodGet, "/v1/disputes/" + id, stranger, nil, http.StatusForbidden, "forbidden"},
		{"stranger open", http.MethodPost, "/v1/disputes", stranger, map[string]any{"escrowId": e.ID, "reason": "x"}, http.StatusForbidden, "forbidden"},
		{"duplicate", http.MethodPost, "/v1/disputes", seller, map[string]any{"escrowId": e.ID, "reason": "x"}, http.StatusConflict, "invalid_state"},
		{"bad body", http.MethodPost, "/v1/disputes", buyer, "{", http.StatusBadRequest, "invalid_request"},
		{"non mediator", http.MethodPost, "/v1/disputes/" + id + "/mediator", admin, map[string]any{"mediatorId": strangerID}, http.StatusBadRequest, "validation_error"},
		{"zero mediator", http.MethodPost, "/v1/disputes/" + id + "/mediator", admin, map[string]any{"mediatorId": 0}, http.StatusBadRequest, "validation_error"},
		{"party resolves", http.MethodPost, "/v1/disputes/" + id + "/resolve", buyer, map[string]any{"resolution": "full_refund"}, http.StatusForbidden, "forbidden"},
		{"close unresolved", http.MethodPost, "/v1/disputes/" + id + "/close", admin, nil, http.StatusConflict, "invalid_state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, tt.method, tt.path, tt.actor, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			var out map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
			assert.Equal(t, tt.code, out["error"])
		})
	}
}
