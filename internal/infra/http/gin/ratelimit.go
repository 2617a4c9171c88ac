package ginserver

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	gin "github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	senderBurst     = 5
	senderIdleAfter = 5 * time.Minute
	sweepEvery      = time.Minute
)

// SendRateLimiter throttles message sends per authenticated user.
type SendRateLimiter struct {
	mu        sync.Mutex
	senders   map[string]*sender
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
	logger    *slog.Logger
}

type sender struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewSendRateLimiter(perMinute int, logger *slog.Logger) *SendRateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := senderBurst
	if perMinute < burst {
		burst = perMinute
	}
	return &SendRateLimiter{
		senders: make(map[string]*sender),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		now:     time.Now,
		logger:  logger,
	}
}

func (l *SendRateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= sweepEvery {
		cutoff := now.Add(-senderIdleAfter)
		for k, s := range l.senders {
			if s.lastSeen.Before(cutoff) {
				delete(l.senders, k)
			}
		}
		l.lastSweep = now
	}
	s, ok := l.senders[key]
	if !ok {
		s = &sender{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.senders[key] = s
	}
	s.lastSeen = now
	return s.limiter
}

// Handler rejects requests over the caller's budget. Anonymous requests are
// passed on so the chat handler can answer 401.
func (l *SendRateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentPrincipal(c)
		if !ok {
			c.Next()
			return
		}
		limiter := l.limiterFor(string(p.ID))
		if !limiter.AllowN(l.now(), 1) {
			if l.logger != nil {
				l.logger.Warn("send rate limit exceeded", "user_id", p.ID, "path", c.FullPath())
			}
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(1/float64(l.limit)))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
