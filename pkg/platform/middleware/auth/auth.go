package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// TokenValidator validates a bearer token and returns its claims. Tokens are
// issued by an external login collaborator; this service only verifies them.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// RoleChecker answers role-hierarchy questions. Role storage lives in an
// external RBAC collaborator; the default implementation ranks the roles this
// service knows about.
type RoleChecker interface {
	MinimumRole(role, minimum string) bool
}

// Claims represents the claims we expect from the token validator.
type Claims struct {
	UserID   string
	FullName string
	Role     string
}

// Roles known to this service, weakest first.
const (
	RoleFieldAgent = "field-agent"
	RoleReviewer   = "reviewer"
	RoleAdmin      = "admin"
)

var roleRank = map[string]int{
	RoleFieldAgent: 1,
	RoleReviewer:   2,
	RoleAdmin:      3,
}

// RankedRoles is the default RoleChecker: a role satisfies a minimum when its
// rank is at least the minimum's rank. Unknown roles satisfy nothing.
type RankedRoles struct{}

func (RankedRoles) MinimumRole(role, minimum string) bool {
	r, ok := roleRank[role]
	if !ok {
		return false
	}
	m, ok := roleRank[minimum]
	if !ok {
		return false
	}
	return r >= m
}

type contextKeyUserID struct{}
type contextKeyUserName struct{}
type contextKeyRole struct{}

var (
	ctxUserID   = contextKeyUserID{}
	ctxUserName = contextKeyUserName{}
	ctxRole     = contextKeyRole{}
)

// GetUserID retrieves the authenticated user ID from the context.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// GetUserName retrieves the authenticated user's display name from the context.
func GetUserName(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserName).(string)
	return v
}

// GetRole retrieves the authenticated user's role from the context.
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(ctxRole).(string)
	return v
}

// WithIdentity injects identity values into the context. Tests use it to call
// services without running the middleware chain.
func WithIdentity(ctx context.Context, userID, name, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxUserName, name)
	return context.WithValue(ctx, ctxRole, role)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth validates the bearer token and stores identity in the request
// context for downstream handlers.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			after, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(r.Context(), "unauthorized access - missing token")
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(after)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token", "error", err)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx := WithIdentity(r.Context(), claims.UserID, claims.FullName, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose authenticated role does not satisfy the
// minimum. Must run after RequireAuth.
func RequireRole(checker RoleChecker, minimum string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r.Context())
			if !checker.MinimumRole(role, minimum) {
				logger.WarnContext(r.Context(), "forbidden - insufficient role",
					"role", role,
					"minimum", minimum,
				)
				writeJSONError(w, http.StatusForbidden, "forbidden", "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
