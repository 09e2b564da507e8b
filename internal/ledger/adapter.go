package ledger

import (
	"context"
	"fmt"

	"github.com/zawadi/disburser/internal/domain"
)

// Receipt is the proof of a confirmed payment on a specific ledger.
type Receipt struct {
	TransactionID string
	Ledger        domain.Ledger
}

// Adapter converts a ledger-agnostic payment into one chain's native
// transaction. Submit blocks until the outcome is determinate: a chain that
// only acknowledges acceptance is polled internally until it settles.
// A successful return means an irreversible external state change; a
// KindNetworkError return means the effect is indeterminate and the caller
// must treat the payment as "may or may not have happened".
type Adapter interface {
	Ledger() domain.Ledger
	Submit(ctx context.Context, p domain.Payment) (*Receipt, error)
}

// Registry holds the configured adapters keyed by ledger identifier.
// Supporting a new chain means registering one more adapter; the settlement
// controller never branches on ledger identity itself.
type Registry struct {
	adapters map[domain.Ledger]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Ledger]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Ledger()] = a
	}
	return r
}

// For returns the adapter registered for a ledger.
func (r *Registry) For(l domain.Ledger) (Adapter, error) {
	a, ok := r.adapters[l]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for ledger %q", l)
	}
	return a, nil
}

// submitTraceKey is the context key for a SubmitTrace.
type submitTraceKey struct{}

// SubmitTrace lets callers observe coarse progress inside a Submit call,
// in the manner of httptrace.ClientTrace. Hooks may be nil.
type SubmitTrace struct {
	// Signed runs after the wallet approved the transaction, before it is
	// handed to the ledger.
	Signed func()
}

// WithSubmitTrace returns a context carrying the trace.
func WithSubmitTrace(ctx context.Context, t *SubmitTrace) context.Context {
	return context.WithValue(ctx, submitTraceKey{}, t)
}

// traceSigned invokes the Signed hook on the context's trace, if any.
// Adapters call it once per submission.
func traceSigned(ctx context.Context) {
	if t, ok := ctx.Value(submitTraceKey{}).(*SubmitTrace); ok && t.Signed != nil {
		t.Signed()
	}
}
