package domain

// Ledger identifies one of the independent settlement backends.
type Ledger string

const (
	// LedgerMeridian is an account-based chain settled by direct value
	// transfer to a plain address. Native amounts use 7 decimal places.
	LedgerMeridian Ledger = "meridian"
	// LedgerKora is a contract-based chain where donations are routed
	// through the platform's registry contract and recipients are resolved
	// by a string handle. Native amounts use 9 decimal places.
	LedgerKora Ledger = "kora"
)

// Destination is where a recipient receives funds on a specific ledger.
// Address holds a plain account address on meridian and a registry handle
// on kora.
type Destination struct {
	Ledger  Ledger `json:"ledger"`
	Address string `json:"address"`
}

// Recipient is a charity selected for a donation. Immutable once an
// allocation plan has been created from it.
type Recipient struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Weight      float64     `json:"weight"`
	Destination Destination `json:"destination"`
}
