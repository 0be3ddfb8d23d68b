package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type stubBlockChecker struct {
	blocked map[string]bool
	err     error
}

func (s *stubBlockChecker) IsBlocked(_ context.Context, ip string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.blocked[ip], nil
}

func blocklistRouter(checker BlockChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/submit", Blocklist(checker), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestBlocklistRejectsBlockedIP(t *testing.T) {
	r := blocklistRouter(&stubBlockChecker{blocked: map[string]bool{"203.0.113.66": true}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.RemoteAddr = "203.0.113.66:9999"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"forbidden"`) {
		t.Fatalf("body = %s, want forbidden code", w.Body.String())
	}
}

func TestBlocklistAllowsOthers(t *testing.T) {
	r := blocklistRouter(&stubBlockChecker{blocked: map[string]bool{"203.0.113.66": true}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.RemoteAddr = "198.51.100.1:9999"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestBlocklistFailsOpenOnTrackerError(t *testing.T) {
	r := blocklistRouter(&stubBlockChecker{err: errors.New("redis down")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.RemoteAddr = "198.51.100.2:9999"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("tracker errors must not reject requests, status = %d", w.Code)
	}
}
