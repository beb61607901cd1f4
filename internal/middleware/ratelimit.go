package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codeway/config-service/internal/errors"
	"github.com/codeway/config-service/internal/httputil"
	"github.com/codeway/config-service/internal/logging"
)

// RateLimiter applies a token-bucket limit per caller (user ID when
// authenticated, remote address otherwise).
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	window   string
	logger   *logging.Logger
}

// NewRateLimiter creates a limiter allowing max requests per window.
func NewRateLimiter(max int, window time.Duration, logger *logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.NewDefault("ratelimit")
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Every(window / time.Duration(max)),
		burst:    max,
		window:   window.String(),
		logger:   logger,
	}
}

// AdminRateLimiter matches the admin endpoint budget: 100 requests per
// 15 minutes.
func AdminRateLimiter(logger *logging.Logger) *RateLimiter {
	return NewRateLimiter(100, 15*time.Minute, logger)
}

// MobileRateLimiter matches the mobile API budget: 1000 requests per
// minute.
func MobileRateLimiter(logger *logging.Logger) *RateLimiter {
	return NewRateLimiter(1000, time.Minute, logger)
}

// AuthRateLimiter matches the auth endpoint budget: 10 requests per
// 15 minutes.
func AuthRateLimiter(logger *logging.Logger) *RateLimiter {
	return NewRateLimiter(10, 15*time.Minute, logger)
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Handler returns the rate limiting middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := GetUserID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}

		if !rl.getLimiter(key).Allow() {
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"key":    key,
				"path":   r.URL.Path,
				"method": r.Method,
			})

			svcErr := errors.RateLimitExceeded(rl.burst, rl.window)
			httputil.WriteErrorResponse(w, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops accumulated limiters; call periodically on long-lived
// processes.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup runs Cleanup on the given interval until stop is closed.
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}
