package fieldops

import (
	"time"

	"github.com/google/uuid"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
)

// Status is the review state of a field request. Pending transitions exactly
// once to Approved or Rejected; terminal states are immutable.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Metadata is the submission context bag captured on the device.
type Metadata struct {
	Source          string    `json:"source"`
	ClientTimestamp time.Time `json:"client_timestamp"`
}

// VerifiedFields carries the corrections an agent verified on site. Nil
// pointers mean "not corrected"; the reconciliation engine only applies
// fields that are present and differ from the canonical row.
type VerifiedFields struct {
	FullName   *string    `json:"full_name,omitempty"`
	TaxID      *string    `json:"tax_id,omitempty"`
	Address    *string    `json:"address,omitempty"`
	Water      *bool      `json:"water_flag,omitempty"`
	Sewer      *bool      `json:"sewer_flag,omitempty"`
	Visited    bool       `json:"visited"`
	CutOff     bool       `json:"cut_off"`
	CutOffDate *time.Time `json:"cut_off_date,omitempty"`
}

// Submission is the wire payload a device delivers for one account.
type Submission struct {
	RecordID       int64          `json:"record_id"`
	Fields         VerifiedFields `json:"verified_fields"`
	Observation    string         `json:"observation"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       Metadata       `json:"metadata"`
}

// Request is a field submission recorded as a pending review item.
// ConnectionStateBefore is captured from the canonical record at submission
// time for audit only; the apply decision re-reads the canonical state.
type Request struct {
	ID                    uuid.UUID                `json:"id"`
	CreatedAt             time.Time                `json:"created_at"`
	RecordID              int64                    `json:"record_id"`
	MunicipalCode         string                   `json:"municipal_code"`
	Status                Status                   `json:"status"`
	RequesterID           string                   `json:"requester_id"`
	RequesterName         string                   `json:"requester_name"`
	Source                string                   `json:"source"`
	ConnectionStateBefore accounts.ConnectionState `json:"connection_state_before"`
	ConnectionStateAfter  accounts.ConnectionState `json:"connection_state_after"`
	VerifiedFields        VerifiedFields           `json:"verified_fields"`
	Observation           string                   `json:"observation"`
	ReviewReason          string                   `json:"review_reason,omitempty"`
	ReviewerID            string                   `json:"reviewer_id,omitempty"`
	ReviewedAt            *time.Time               `json:"reviewed_at,omitempty"`
	IdempotencyKey        string                   `json:"idempotency_key"`
	Metadata              Metadata                 `json:"metadata"`
}

// ConnectionStateEvent is an append-only audit row, written only when an
// approval actually changes an account's connection state.
type ConnectionStateEvent struct {
	ID          uuid.UUID                `json:"id"`
	CreatedAt   time.Time                `json:"created_at"`
	RecordID    int64                    `json:"record_id"`
	StateBefore accounts.ConnectionState `json:"state_before"`
	StateAfter  accounts.ConnectionState `json:"state_after"`
	Reason      string                   `json:"reason"`
}

// DeriveConnectionState computes the state a submission implies. A cut-off
// report wins; a plain visit confirms the service is connected; an account
// the agent never reached keeps its current state.
func DeriveConnectionState(current accounts.ConnectionState, fields VerifiedFields) accounts.ConnectionState {
	if fields.CutOff {
		return accounts.StateCutOff
	}
	if fields.Visited {
		return accounts.StateConnected
	}
	return current
}
