// Package httputil centralizes JSON response and error envelope writing so
// every handler speaks the same shape.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	domainerrors "github.com/OleOle19/sistema-agua-municipalidad/pkg/domain-errors"
)

// WriteJSON writes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON error envelope. Internal
// errors omit the description so infrastructure details never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	status := domainerrors.ToHTTPStatus(code)

	body := map[string]string{"error": string(code)}

	var de *domainerrors.Error
	if code != domainerrors.CodeInternal && errors.As(err, &de) && de.Message != "" {
		body["error_description"] = de.Message
	}

	WriteJSON(w, status, body)
}
