package domain

import "time"

type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
)

type RecipientStatus string

const (
	RecipientPending           RecipientStatus = "pending"
	RecipientAwaitingSignature RecipientStatus = "awaiting_signature"
	RecipientSubmitted         RecipientStatus = "submitted"
	RecipientConfirmed         RecipientStatus = "confirmed"
	RecipientFailed            RecipientStatus = "failed"
)

// RecipientState tracks one recipient's progress through settlement.
// FailureKind and FailureDetail are set only while Status is failed.
type RecipientState struct {
	Status        RecipientStatus `json:"status"`
	FailureKind   string          `json:"failure_kind,omitempty"`
	FailureDetail string          `json:"failure_detail,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
}

// SettlementSession is the stateful settlement of one allocation plan.
// Cursor indexes Plan.Entries and is monotonically non-decreasing. The
// session is mutated exclusively by the settlement controller; everyone
// else sees copies. Partial fulfillment (aborted with some recipients
// confirmed) is a valid terminal state.
type SettlementSession struct {
	ID         string                    `json:"id"`
	Plan       *AllocationPlan           `json:"plan"`
	Cursor     int                       `json:"cursor"`
	Recipients map[string]RecipientState `json:"recipients"`
	Status     SessionStatus             `json:"status"`
}

// Payment is the ephemeral request handed to a chain adapter. Built from a
// plan entry, never persisted on its own.
type Payment struct {
	RecipientID string
	Destination Destination
	Amount      int64
	Currency    string
}

// SettlementResult is produced once a recipient's payment is confirmed on
// its ledger and handed to the transparency recorder.
type SettlementResult struct {
	RecipientID   string    `json:"recipient_id"`
	TransactionID string    `json:"transaction_id"`
	Ledger        Ledger    `json:"ledger"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}
