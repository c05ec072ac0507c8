// Package slot defines the reservation record held per pool number.
package slot

import "time"

// Slot is one reserved number. A number with no Slot record is available;
// existence of the record is the reservation signal, there is no status field.
type Slot struct {
	Number       int       `json:"number"`
	ClaimantName string    `json:"claimant_name"`
	Paid         bool      `json:"paid"`
	ReservedAt   time.Time `json:"reserved_at"`
}

// BulkAction is the uniform mutation applied across a slot selection.
type BulkAction string

const (
	ActionMarkPaid    BulkAction = "mark_paid"
	ActionMarkPending BulkAction = "mark_pending"
	ActionDelete      BulkAction = "delete"
)

// Valid reports whether the action is one of the known bulk actions.
func (a BulkAction) Valid() bool {
	switch a {
	case ActionMarkPaid, ActionMarkPending, ActionDelete:
		return true
	}
	return false
}
