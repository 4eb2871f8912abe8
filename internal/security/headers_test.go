package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(mw gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(mw)
	r.Handle(method, "/v1/escrows", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(method, "/v1/escrows", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(false), http.MethodGet, "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", w.Header().Get("Content-Security-Policy"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = serve(HeadersMiddleware(true), http.MethodGet, "")
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		wantAllow   bool
		wantCredent bool
	}{
		{"listed origin", []string{"https://rekberpay.com/"}, "https://rekberpay.com", true, true},
		{"wildcard", []string{"*"}, "https://shop.example", true, false},
		{"unlisted origin", []string{"https://rekberpay.com"}, "https://evil.example", false, false},
		{"no origin header", []string{"*"}, "", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(CORSMiddleware(tc.origins), http.MethodGet, tc.origin)
			assert.Equal(t, tc.wantAllow, w.Header().Get("Access-Control-Allow-Origin") != "")
			assert.Equal(t, tc.wantCredent, w.Header().Get("Access-Control-Allow-Credentials") == "true")
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	w := serve(CORSMiddleware([]string{"https://rekberpay.com"}), http.MethodOptions, "https://rekberpay.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}
