package ledger

import (
	"fmt"

	"github.com/zawadi/disburser/internal/domain"
)

// ErrorKind classifies a payment failure. Every chain adapter maps its
// underlying errors into exactly one of these.
type ErrorKind string

const (
	// KindUserRejected means the signer declined the transaction.
	KindUserRejected ErrorKind = "user_rejected"
	// KindInsufficientFunds means the funding source cannot cover the
	// payment. A bare retry is only sensible after the plan is amended.
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	// KindInvalidRecipient means the destination could not be resolved on
	// the ledger. Requires a plan edit, not a retry.
	KindInvalidRecipient ErrorKind = "invalid_recipient"
	// KindNetworkError is transient and safe to retry. The external effect
	// is indeterminate: the payment may or may not have happened.
	KindNetworkError ErrorKind = "network_error"
	// KindUnknown carries the underlying detail verbatim for diagnostics.
	KindUnknown ErrorKind = "unknown"
)

// Retryable reports whether a bare retry, without amending the plan, can
// sensibly succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindUserRejected || k == KindNetworkError
}

// PaymentError is the unified failure taxonomy across all ledgers.
type PaymentError struct {
	Kind        ErrorKind
	Ledger      domain.Ledger
	RecipientID string
	Detail      string
	Err         error
}

func (e *PaymentError) Error() string {
	msg := fmt.Sprintf("payment on %s for %s: %s", e.Ledger, e.RecipientID, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PaymentError) Unwrap() error { return e.Err }

// BalanceQueryError means a spendable-balance check could not be completed.
// It is distinct from a zero balance: callers must be able to tell "no
// funds" from "could not check".
type BalanceQueryError struct {
	Ledger domain.Ledger
	Owner  string
	Err    error
}

func (e *BalanceQueryError) Error() string {
	return fmt.Sprintf("balance query on %s for %s: %v", e.Ledger, e.Owner, e.Err)
}

func (e *BalanceQueryError) Unwrap() error { return e.Err }
