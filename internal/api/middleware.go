package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type contextKey string

const userIDKey contextKey = "user_id"

// userLimiters holds one token bucket per calling user.
type userLimiters struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	every    time.Duration
	burst    int
}

func newUserLimiters(perMinute, burst int) *userLimiters {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &userLimiters{
		limiters: make(map[int64]*rate.Limiter),
		every:    time.Minute / time.Duration(perMinute),
		burst:    burst,
	}
}

func (u *userLimiters) get(userID int64) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()

	limiter, ok := u.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(u.every), u.burst)
		u.limiters[userID] = limiter
	}
	return limiter
}

// protect chains the auth, identity and rate-limit checks in front of a
// handler.
func (s *HTTPServer) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.APIKeys) > 0 && !s.validAPIKey(r.Header.Get("x-api-key")) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
			return
		}

		if !s.limiters.get(userID).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded; try again later")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next(w, r.WithContext(ctx))
	}
}

func (s *HTTPServer) validAPIKey(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range s.cfg.APIKeys {
		if key == k {
			return true
		}
	}
	return false
}

// callerID returns the authenticated user id set by protect.
func callerID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}
