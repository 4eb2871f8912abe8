package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestCheckAll_Empty(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestCheckAll_OrderAndNames(t *testing.T) {
	r := NewRegistry()
	r.Register("database", Ping(pinger{}))
	r.Register("expiry_timer", Running(func() bool { return false }))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, Status{Name: "database", Healthy: true}, statuses[0])
	assert.Equal(t, Status{Name: "expiry_timer", Detail: "not running"}, statuses[1])
}

func TestCheckAll_PingError(t *testing.T) {
	r := NewRegistry()
	r.Register("database", Ping(pinger{err: errors.New("connection refused")}))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, "connection refused", statuses[0].Detail)
}

func TestCheckAll_Timeout(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	block := make(chan struct{})
	defer close(block)
	r.Register("stuck", func(context.Context) Status {
		<-block
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, "timed out", statuses[0].Detail)
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := NewRegistry()
	up := true
	reg.Register("realtime", Running(func() bool { return up }))

	r := gin.New()
	r.GET("/health", Handler(reg, "1.2.0"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.0", resp.Version)

	up = false
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}
