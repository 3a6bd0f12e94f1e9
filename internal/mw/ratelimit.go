package mw

import (
	"net/http"
	"sync"

	"telehealth-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyedLimiter stores a token-bucket limiter per caller key.
type keyedLimiter struct {
	keys map[string]*rate.Limiter
	mu   *sync.RWMutex
	r    rate.Limit
	b    int
}

func newKeyedLimiter(r rate.Limit, b int) *keyedLimiter {
	return &keyedLimiter{
		keys: make(map[string]*rate.Limiter),
		mu:   &sync.RWMutex{},
		r:    r,
		b:    b,
	}
}

func (l *keyedLimiter) add(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter := rate.NewLimiter(l.r, l.b)
	l.keys[key] = limiter
	return limiter
}

func (l *keyedLimiter) get(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.keys[key]
	l.mu.RUnlock()

	if !exists {
		return l.add(key)
	}
	return limiter
}

// callerKey prefers the authenticated user so the limit follows the account,
// not the NAT. Unauthenticated callers fall back to client IP.
func callerKey(c *gin.Context) string {
	if userID, err := auth.UserID(c.Request.Context()); err == nil {
		return "u:" + userID
	}
	return "ip:" + c.ClientIP()
}

// RateLimit caps request throughput per caller. Used on the heartbeat route
// so a runaway client cannot hammer the presence tracker.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	limiter := newKeyedLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.get(callerKey(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
