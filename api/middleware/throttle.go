package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"golang.org/x/time/rate"

	"github.com/yourusername/course-extract-go/internal/domain"
)

// KeyedLimiter keeps one token bucket per key
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewKeyedLimiter creates a limiter allowing perSecond requests per key
// with the given burst
func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether a request for key may proceed now
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.rate, k.burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

// Throttle rejects requests with 429 once the bucket for their key is
// empty. Requests with an empty key pass through.
func Throttle(limiter *KeyedLimiter, key func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := key(c)
		if k != "" && !limiter.Allow(k) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"kind": domain.KindRateLimited, "message": "too many requests for " + k},
			})
			return
		}
		c.Next()
	}
}

// ActionKey reads the action name from a JSON body. The body stays
// available to handlers through ShouldBindBodyWith.
func ActionKey(c *gin.Context) string {
	var body struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
		return ""
	}
	return body.Action
}
