package api

import "fmt"

// ErrorKind is the closed classification every delivery failure is mapped to.
// The queue's retry policy is an exhaustive match on this enum instead of
// ad-hoc inspection of error values.
type ErrorKind string

const (
	KindNetwork  ErrorKind = "network"  // connect/fetch failure; transient
	KindAuth     ErrorKind = "auth"     // 401/403; transient, session may renew
	KindServer   ErrorKind = "server"   // 5xx; transient
	KindClient   ErrorKind = "client"   // other 4xx; permanent
	KindStorage  ErrorKind = "storage"  // local persistence failure; fatal
	KindConflict ErrorKind = "conflict" // reviewing an already-terminal request
)

// Transient reports whether the failure is worth retrying later.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindNetwork, KindAuth, KindServer:
		return true
	}
	return false
}

// DeliveryError is a classified submission failure.
type DeliveryError struct {
	Kind    ErrorKind
	Status  int // HTTP status when the server answered, 0 otherwise
	Message string
	cause   error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DeliveryError) Unwrap() error { return e.cause }

// NetworkError wraps a transport failure.
func NetworkError(err error) *DeliveryError {
	return &DeliveryError{Kind: KindNetwork, Message: err.Error(), cause: err}
}

// StatusError classifies an HTTP response status.
func StatusError(status int, message string) *DeliveryError {
	var kind ErrorKind
	switch {
	case status == 401 || status == 403:
		kind = KindAuth
	case status == 409:
		kind = KindConflict
	case status >= 500:
		kind = KindServer
	case status >= 400:
		kind = KindClient
	default:
		kind = KindServer
	}
	return &DeliveryError{Kind: kind, Status: status, Message: message}
}
