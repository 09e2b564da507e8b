package domain

import "time"

// RecordStatus is the settlement status mirrored into the transparency
// store. Only confirmed settlements are recorded today; the field exists so
// the store can later mirror reversals reported by a ledger.
type RecordStatus string

const (
	RecordConfirmed RecordStatus = "confirmed"
)

// DonationRecord is one row of the transparency store: a confirmed,
// on-chain donation mirrored for public display. The on-chain transaction
// is the source of truth; this record is an eventually-consistent copy.
type DonationRecord struct {
	ID                   string       `json:"id"`
	TransactionID        string       `json:"transaction_id"`
	PayerIdentity        string       `json:"payer_identity"`
	RecipientName        string       `json:"recipient_name"`
	RecipientDestination string       `json:"recipient_destination"`
	Amount               int64        `json:"amount"`
	Currency             string       `json:"currency"`
	Ledger               Ledger       `json:"ledger"`
	Status               RecordStatus `json:"status"`
	RecordedAt           time.Time    `json:"recorded_at"`
}
