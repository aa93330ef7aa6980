package testutil

import (
	"net/http"

	authmw "github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/middleware/auth"
)

// WithIdentity stamps an authenticated identity onto the request context,
// simulating what the auth middleware does after token validation.
func WithIdentity(req *http.Request, userID, name, role string) *http.Request {
	return req.WithContext(authmw.WithIdentity(req.Context(), userID, name, role))
}

// WithFieldAgent marks the request as coming from an authenticated field agent.
func WithFieldAgent(req *http.Request, userID, name string) *http.Request {
	return WithIdentity(req, userID, name, authmw.RoleFieldAgent)
}

// WithReviewer marks the request as coming from an authenticated reviewer.
func WithReviewer(req *http.Request, userID, name string) *http.Request {
	return WithIdentity(req, userID, name, authmw.RoleReviewer)
}
