// Package identity provides anonymous per-device learner identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/store"
)

const (
	CookieName       = "pmj_learner_id"
	HeaderName       = "X-PMJ-Learner-ID"
	cookieMaxAge     = 30 * 24 * time.Hour
	lastSeenInterval = time.Minute
)

type contextKey int

const learnerIDKey contextKey = iota

var learnerIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// LearnerIDFromContext extracts the learner ID from the request context.
func LearnerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(learnerIDKey).(string); ok {
		return v
	}
	return ""
}

// WithLearnerID returns a context carrying the learner ID.
func WithLearnerID(ctx context.Context, learnerID string) context.Context {
	return context.WithValue(ctx, learnerIDKey, learnerID)
}

// NewLearnerID generates a fresh anonymous learner ID.
func NewLearnerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate learner id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// ValidLearnerID reports whether id has the anonymous learner ID shape.
func ValidLearnerID(id string) bool {
	return learnerIDPattern.MatchString(id)
}

// DisplayName derives a short, stable display name from a learner ID.
func DisplayName(learnerID string) string {
	if len(learnerID) > 13 {
		return "learner-" + learnerID[len(learnerID)-8:]
	}
	return "learner"
}

func ensureLearner(ctx context.Context, repo store.Repository, learnerID string) error {
	now := time.Now().UTC()
	learner, err := repo.GetLearner(ctx, learnerID)
	if err != nil {
		return err
	}
	if learner != nil {
		if learner.IdleFor(now) < lastSeenInterval {
			return nil
		}
		return repo.UpdateLastSeen(ctx, learnerID, now)
	}

	return repo.UpsertLearner(ctx, &domain.Learner{
		LearnerID:   learnerID,
		DisplayName: DisplayName(learnerID),
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func setCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// learnerIDFromRequest prefers the explicit header used by CLI clients, then
// the browser cookie, and mints a new ID otherwise. Valid cookies are
// refreshed so active learners keep their identity.
func learnerIDFromRequest(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if h := strings.TrimSpace(r.Header.Get(HeaderName)); h != "" {
		if !ValidLearnerID(h) {
			return "", fmt.Errorf("%w: malformed %s header", domain.ErrValidation, HeaderName)
		}
		return h, nil
	}

	if c, err := r.Cookie(CookieName); err == nil && ValidLearnerID(c.Value) {
		setCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := NewLearnerID()
	if err != nil {
		return "", err
	}
	setCookie(w, id, isDev)
	return id, nil
}

// Middleware resolves the learner for every request and stores the ID in the
// request context.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			learnerID, err := learnerIDFromRequest(w, r, isDev)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				if errors.Is(err, domain.ErrValidation) {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":"malformed learner id"}`))
					return
				}
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"failed to establish learner identity"}`))
				return
			}

			if err := ensureLearner(r.Context(), repo, learnerID); err != nil {
				slog.Error("Failed to record learner", "learner_id", learnerID, "ip", IPFromRequest(r), "error", err)
				http.Error(w, `{"error":"failed to initialize learner"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithLearnerID(r.Context(), learnerID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
