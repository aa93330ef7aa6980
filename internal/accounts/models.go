package accounts

import "time"

// ConnectionState is the tri-state service-connection status of an account.
// Transitions are audited through fieldops.ConnectionStateEvent rows.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateCutOff       ConnectionState = "cut_off"
)

// Valid reports whether s is one of the known connection states.
func (s ConnectionState) Valid() bool {
	switch s {
	case StateConnected, StateDisconnected, StateCutOff:
		return true
	}
	return false
}

// Street is reference data used for address lookups on the device.
type Street struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Account is a canonical water-service account in the municipal register.
// DebtTotal is in cents.
type Account struct {
	ID              int64           `json:"id"`
	MunicipalCode   string          `json:"municipal_code"`
	FullName        string          `json:"full_name"`
	TaxID           string          `json:"tax_id"`
	Address         string          `json:"address"`
	StreetID        int64           `json:"street_id"`
	Water           bool            `json:"water_flag"`
	Sewer           bool            `json:"sewer_flag"`
	MonthsOwed      int             `json:"months_owed"`
	DebtTotal       int64           `json:"debt_total"`
	ConnectionState ConnectionState `json:"connection_state"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SnapshotPayload is the bounded reference dataset served to field devices.
// The device stamps its own synced_at when it stores the payload.
type SnapshotPayload struct {
	Total   int       `json:"total"`
	Streets []Street  `json:"streets"`
	Records []Account `json:"records"`
}
