// Package settlement drives an allocation plan through the chain adapters,
// one recipient at a time, in plan order. There is no atomicity across
// payments: each confirmed payment is an independent, irreversible external
// transaction, and a halted session resumes at the recipient that failed.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zawadi/disburser/internal/domain"
	"github.com/zawadi/disburser/internal/ledger"
)

// Recorder mirrors confirmed settlements into the transparency store.
// Implementations must treat failures as warnings; the controller never
// lets a recorder error touch recipient state.
type Recorder interface {
	Record(ctx context.Context, rec domain.DonationRecord) error
}

// Controller owns one settlement session exclusively. The plan it was built
// from is read-only. All methods are safe for concurrent use; at most one
// adapter Submit call is outstanding at any time.
type Controller struct {
	mu       sync.Mutex
	session  *domain.SettlementSession
	registry *ledger.Registry
	recorder Recorder
	payer    string
	timeout  time.Duration
	inFlight bool
}

// NewController creates an idle session for the plan. The timeout bounds
// each individual Submit call; on expiry the outcome is treated as a
// NetworkError (indeterminate), never as a confirmed failure.
func NewController(plan *domain.AllocationPlan, registry *ledger.Registry, recorder Recorder, payer string, timeout time.Duration) (*Controller, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	recipients := make(map[string]domain.RecipientState, len(plan.Entries))
	for _, e := range plan.Entries {
		recipients[e.RecipientID] = domain.RecipientState{Status: domain.RecipientPending}
	}

	return &Controller{
		session: &domain.SettlementSession{
			ID:         uuid.NewString(),
			Plan:       plan,
			Recipients: recipients,
			Status:     domain.SessionIdle,
		},
		registry: registry,
		recorder: recorder,
		payer:    payer,
		timeout:  timeout,
	}, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	return c.session.ID
}

// Snapshot returns a copy of the session state for read-only use.
func (c *Controller) Snapshot() domain.SettlementSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := *c.session
	snap.Recipients = make(map[string]domain.RecipientState, len(c.session.Recipients))
	for id, st := range c.session.Recipients {
		snap.Recipients[id] = st
	}
	return snap
}

// Start activates an idle session and processes recipients from cursor 0
// until completion or the first failure. It blocks while payments are in
// flight.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.session.Status != domain.SessionIdle {
		defer c.mu.Unlock()
		return fmt.Errorf("start session %s: status is %s, want %s", c.session.ID, c.session.Status, domain.SessionIdle)
	}
	c.session.Status = domain.SessionActive
	c.mu.Unlock()

	log.Printf("[settlement] session %s started: %d recipients, total %d %s",
		c.session.ID, len(c.session.Plan.Entries), c.session.Plan.Total, c.session.Plan.Currency)

	c.advance(ctx)
	return nil
}

// RetryCurrent re-attempts the recipient at the cursor after a failure.
// It is a no-op unless the session is active and that recipient is in the
// failed state: retrying a confirmed or in-flight recipient does nothing,
// and the cursor never moves backward.
func (c *Controller) RetryCurrent(ctx context.Context) error {
	c.mu.Lock()
	if c.session.Status != domain.SessionActive || c.inFlight || c.session.Cursor >= len(c.session.Plan.Entries) {
		c.mu.Unlock()
		return nil
	}
	entry := c.session.Plan.Entries[c.session.Cursor]
	if c.session.Recipients[entry.RecipientID].Status != domain.RecipientFailed {
		c.mu.Unlock()
		return nil
	}
	c.session.Recipients[entry.RecipientID] = domain.RecipientState{Status: domain.RecipientPending}
	c.mu.Unlock()

	log.Printf("[settlement] session %s: retrying %s", c.session.ID, entry.RecipientID)
	c.advance(ctx)
	return nil
}

// Abort ends an active session. The abort is recorded immediately but a
// payment already in flight is never force-cancelled: its outcome is still
// applied when it resolves, and only then does scheduling stop. Confirmed
// recipients stay confirmed; no compensating transaction is issued.
func (c *Controller) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Status != domain.SessionActive {
		return fmt.Errorf("abort session %s: status is %s, want %s", c.session.ID, c.session.Status, domain.SessionActive)
	}
	c.session.Status = domain.SessionAborted
	log.Printf("[settlement] session %s aborted at cursor %d", c.session.ID, c.session.Cursor)
	return nil
}

// advance processes the recipient at the cursor and, on success, chains to
// the next one. A call while another is in flight for this session is
// ignored rather than queued: re-entry is a no-op.
func (c *Controller) advance(ctx context.Context) {
	for {
		c.mu.Lock()
		if c.inFlight || c.session.Status != domain.SessionActive || c.session.Cursor >= len(c.session.Plan.Entries) {
			c.mu.Unlock()
			return
		}
		entry := c.session.Plan.Entries[c.session.Cursor]
		if c.session.Recipients[entry.RecipientID].Status != domain.RecipientPending {
			c.mu.Unlock()
			return
		}
		c.inFlight = true
		c.session.Recipients[entry.RecipientID] = domain.RecipientState{Status: domain.RecipientAwaitingSignature}
		c.mu.Unlock()

		receipt, err := c.submit(ctx, entry)

		c.mu.Lock()
		c.inFlight = false
		if err != nil {
			perr := c.classify(err, entry)
			c.session.Recipients[entry.RecipientID] = domain.RecipientState{
				Status:        domain.RecipientFailed,
				FailureKind:   string(perr.Kind),
				FailureDetail: failureDetail(perr),
			}
			c.mu.Unlock()
			log.Printf("[settlement] session %s: %s failed (%s), halting at cursor %d: %v",
				c.session.ID, entry.RecipientID, perr.Kind, c.session.Cursor, perr)
			return
		}

		now := time.Now().UTC()
		c.session.Recipients[entry.RecipientID] = domain.RecipientState{
			Status:        domain.RecipientConfirmed,
			TransactionID: receipt.TransactionID,
			ConfirmedAt:   &now,
		}
		c.session.Cursor++
		done := c.session.Cursor >= len(c.session.Plan.Entries)
		if done && c.session.Status == domain.SessionActive {
			c.session.Status = domain.SessionCompleted
		}
		active := c.session.Status == domain.SessionActive
		c.mu.Unlock()

		log.Printf("[settlement] session %s: %s confirmed on %s (tx %s)",
			c.session.ID, entry.RecipientID, receipt.Ledger, receipt.TransactionID)
		c.notifyRecorder(entry, receipt, now)

		if done || !active {
			if done {
				log.Printf("[settlement] session %s completed", c.session.ID)
			}
			return
		}
	}
}

// submit hands one plan entry to its ledger's adapter, bounded by the
// per-payment timeout. The submit trace flips the recipient from
// awaiting-signature to submitted once the wallet has approved.
func (c *Controller) submit(ctx context.Context, entry domain.PlanEntry) (*ledger.Receipt, error) {
	adapter, err := c.registry.For(entry.Destination.Ledger)
	if err != nil {
		return nil, &ledger.PaymentError{
			Kind:        ledger.KindInvalidRecipient,
			Ledger:      entry.Destination.Ledger,
			RecipientID: entry.RecipientID,
			Detail:      err.Error(),
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx = ledger.WithSubmitTrace(ctx, &ledger.SubmitTrace{
		Signed: func() { c.markSubmitted(entry.RecipientID) },
	})

	return adapter.Submit(ctx, domain.Payment{
		RecipientID: entry.RecipientID,
		Destination: entry.Destination,
		Amount:      entry.Amount,
		Currency:    c.session.Plan.Currency,
	})
}

func (c *Controller) markSubmitted(recipientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.session.Recipients[recipientID]; st.Status == domain.RecipientAwaitingSignature {
		st.Status = domain.RecipientSubmitted
		c.session.Recipients[recipientID] = st
	}
}

// notifyRecorder mirrors a confirmed settlement, fire-and-forget. Failures
// are logged as warnings and never propagate.
func (c *Controller) notifyRecorder(entry domain.PlanEntry, receipt *ledger.Receipt, confirmedAt time.Time) {
	if c.recorder == nil {
		return
	}
	rec := domain.DonationRecord{
		ID:                   uuid.NewString(),
		TransactionID:        receipt.TransactionID,
		PayerIdentity:        c.payer,
		RecipientName:        entry.DisplayName,
		RecipientDestination: entry.Destination.Address,
		Amount:               entry.Amount,
		Currency:             c.session.Plan.Currency,
		Ledger:               receipt.Ledger,
		Status:               domain.RecordConfirmed,
		RecordedAt:           confirmedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.recorder.Record(ctx, rec); err != nil {
			log.Printf("[settlement] WARNING: session %s: %v", c.session.ID, err)
		}
	}()
}

func (c *Controller) classify(err error, entry domain.PlanEntry) *ledger.PaymentError {
	var perr *ledger.PaymentError
	if errors.As(err, &perr) {
		return perr
	}
	kind := ledger.KindUnknown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = ledger.KindNetworkError
	}
	return &ledger.PaymentError{
		Kind:        kind,
		Ledger:      entry.Destination.Ledger,
		RecipientID: entry.RecipientID,
		Err:         err,
	}
}

func failureDetail(perr *ledger.PaymentError) string {
	if perr.Detail != "" {
		return perr.Detail
	}
	if perr.Err != nil {
		return perr.Err.Error()
	}
	return string(perr.Kind)
}
