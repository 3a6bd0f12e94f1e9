package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"telehealth-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func identify(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, "patient")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func TestRateLimit_PerUser(t *testing.T) {
	r := gin.New()
	r.GET("/hb/:user", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), c.Param("user"), "patient"))
		c.Next()
	}, RateLimit(rate.Limit(1), 2), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(user string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/hb/"+user, nil)
		r.ServeHTTP(w, req)
		return w.Code
	}

	// Burst of 2 passes, third is limited.
	if do("u1") != http.StatusNoContent || do("u1") != http.StatusNoContent {
		t.Fatalf("burst should pass")
	}
	if do("u1") != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for exhausted bucket")
	}

	// A different user has its own bucket.
	if do("u2") != http.StatusNoContent {
		t.Fatalf("second user must not share the first user's bucket")
	}
}

func TestCache_ServesSecondRequestFromStore(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	hits := 0

	r := gin.New()
	r.GET("/report", identify("u1"), Cache(store, time.Minute), func(c *gin.Context) {
		hits++
		c.JSON(http.StatusOK, gin.H{"n": hits})
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/report", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if w.Body.String() != `{"n":1}` {
			t.Fatalf("expected cached body, got %s", w.Body.String())
		}
	}
	if hits != 1 {
		t.Fatalf("expected handler to run once, ran %d times", hits)
	}
}

func TestCache_KeysAreUserScoped(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)

	// Same URI for both users; only the identity differs.
	r := gin.New()
	r.GET("/mine", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), c.GetHeader("X-Test-User"), "patient"))
		c.Next()
	}, Cache(store, time.Minute), func(c *gin.Context) {
		userID, _ := auth.UserID(c.Request.Context())
		c.String(http.StatusOK, userID)
	})

	get := func(user string) string {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/mine", nil)
		req.Header.Set("X-Test-User", user)
		r.ServeHTTP(w, req)
		return w.Body.String()
	}

	if got := get("u1"); got != "u1" {
		t.Fatalf("expected u1, got %s", got)
	}
	if got := get("u2"); got != "u2" {
		t.Fatalf("u2 must not receive u1's cached body, got %s", got)
	}
}

func TestCache_SkipsNonGet(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	hits := 0

	r := gin.New()
	r.POST("/action", identify("u1"), Cache(store, time.Minute), func(c *gin.Context) {
		hits++
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/action", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
	if hits != 2 {
		t.Fatalf("POST must never be cached, handler ran %d times", hits)
	}
}
