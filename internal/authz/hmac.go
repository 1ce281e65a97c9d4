package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	obsmw "mlsrelay/internal/observability/middleware"
)

type ctxKey string

const ctxKeySubject ctxKey = "auth_subject"

// DeviceHeader carries the caller's device id, distinct from the user
// identity in the bearer token.
const DeviceHeader = "X-Device-ID"

// HMACValidator authenticates HS256 bearer tokens issued by the identity
// service and puts the subject user id on the request context.
type HMACValidator struct {
	secret []byte
	issuer string
}

func NewHMACValidator(secret, issuer string) *HMACValidator {
	return &HMACValidator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

func (h *HMACValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := obsmw.RequestIDFromContext(r.Context())
		raw := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			slog.Warn("auth missing bearer", "request_id", reqID)
			return
		}
		tokStr := strings.TrimSpace(raw[len("Bearer "):])

		token, err := jwt.Parse(tokStr, func(token *jwt.Token) (interface{}, error) {
			// Ensure HS* (HMAC) only
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
			}
			return h.secret, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("auth invalid token", "error", err, "request_id", reqID)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			slog.Warn("auth invalid claims", "request_id", reqID)
			return
		}
		if iss, _ := claims["iss"].(string); iss != "" && h.issuer != "" && iss != h.issuer {
			http.Error(w, "issuer mismatch", http.StatusUnauthorized)
			slog.Warn("auth issuer mismatch", "issuer", iss, "request_id", reqID)
			return
		}
		sub, _ := claims["sub"].(string)
		userID, err := uuid.Parse(sub)
		if err != nil {
			http.Error(w, "invalid subject", http.StatusUnauthorized)
			slog.Warn("auth invalid subject", "request_id", reqID)
			return
		}

		next.ServeHTTP(w, r.WithContext(contextWithSubject(r.Context(), userID)))
	})
}

func contextWithSubject(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeySubject, userID)
}

// SubjectFromContext returns the authenticated user id.
func SubjectFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ctxKeySubject).(uuid.UUID)
	return v, ok
}

// DeviceFromRequest parses the device header; the second return reports
// whether the header was present at all.
func DeviceFromRequest(r *http.Request) (uuid.UUID, bool, error) {
	raw := strings.TrimSpace(r.Header.Get(DeviceHeader))
	if raw == "" {
		return uuid.UUID{}, false, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, true, fmt.Errorf("invalid %s header", DeviceHeader)
	}
	return id, true, nil
}
