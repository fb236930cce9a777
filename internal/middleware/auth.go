package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/auth"
	"github.com/ukydev/fleet-tracking/internal/models"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.Claims, error)
}

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	validator TokenValidator
	log       *logrus.Entry
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator TokenValidator, logger *logrus.Logger) *AuthMiddleware {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthMiddleware{
		validator: validator,
		log:       logger.WithField("component", "auth"),
	}
}

// Authenticate validates JWT tokens and adds the claims to the request context.
// Browsers cannot set headers on WebSocket upgrades, so a "token" query
// parameter is accepted there.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		var token string
		switch {
		case header != "":
			var err error
			if token, err = auth.ExtractTokenFromHeader(header); err != nil {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}
		case isWebSocketUpgrade(r):
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Token expired"
			}
			m.log.WithError(err).WithField("path", r.URL.Path).Debug("Rejected request")
			http.Error(w, msg, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission lets through users whose role allows action.
func (m *AuthMiddleware) RequirePermission(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				http.Error(w, "User context not found", http.StatusUnauthorized)
				return
			}

			if !claims.HasPermission(action) {
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*models.Claims)
	return claims, ok
}

func shouldSkipAuth(path string) bool {
	return path == "/health"
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// RateLimitMiddleware limits requests per caller in a sliding window.
type RateLimitMiddleware struct {
	requests  map[string][]time.Time
	lastSweep time.Time
	mu        sync.Mutex
	now       func() time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// RateLimit allows maxRequests per window for each authenticated user, or
// per client IP for anonymous requests.
func (m *RateLimitMiddleware) RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxRequests <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			key := "ip:" + getClientIP(r)
			if claims, ok := GetUserFromContext(r.Context()); ok {
				key = "user:" + claims.UserID
			}

			if !m.allow(key, maxRequests, window) {
				w.Header().Set("Retry-After", retryAfterSeconds(window))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *RateLimitMiddleware) allow(key string, maxRequests int, window time.Duration) bool {
	now := m.now()
	cutoff := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= window {
		m.sweep(cutoff)
		m.lastSweep = now
	}

	kept := m.requests[key][:0]
	for _, ts := range m.requests[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= maxRequests {
		m.requests[key] = kept
		return false
	}
	m.requests[key] = append(kept, now)
	return true
}

// sweep drops callers with no request after cutoff. Timestamps are kept
// in arrival order, so the last one is the newest.
func (m *RateLimitMiddleware) sweep(cutoff time.Time) {
	for key, times := range m.requests {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(m.requests, key)
		}
	}
}

func retryAfterSeconds(window time.Duration) string {
	secs := int(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}
