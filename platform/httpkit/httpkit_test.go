package httpkit

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"permit_portal_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandleErrorMapsKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"precondition", apperr.Precondition("preceding inspection stage incomplete"), http.StatusPreconditionFailed},
		{"wrapped conflict", fmt.Errorf("submit: %w", apperr.Conflict("already initialized")), http.StatusConflict},
		{"invariant", apperr.Invariant("dangling stage"), http.StatusInternalServerError},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			if !HandleError(c, tc.err) {
				t.Fatalf("expected error to be handled")
			}
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	limiter := NewPerMinuteLimiter(1, nil)
	r := gin.New()
	r.GET("/hook", limiter.RateLimit(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/hook", nil))
	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/hook", nil))

	if first.Code != http.StatusNoContent || second.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected statuses %d, %d", first.Code, second.Code)
	}
}

func TestActorID(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set(HeaderActorID, "not-a-uuid")
	if ActorID(c).Valid {
		t.Fatalf("expected invalid actor id to be ignored")
	}
	c.Request.Header.Set(HeaderActorID, "6f1c1f9e-5d5e-4a7b-9a53-0c1d2e3f4a5b")
	if !ActorID(c).Valid {
		t.Fatalf("expected actor id to parse")
	}
}
