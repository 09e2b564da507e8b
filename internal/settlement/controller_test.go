package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zawadi/disburser/internal/domain"
	"github.com/zawadi/disburser/internal/ledger"
)

// scriptedAdapter pops one scripted outcome per Submit call, per recipient.
type scriptedAdapter struct {
	mu      sync.Mutex
	scripts map[string][]submitOutcome
	calls   []string
	block   chan struct{} // when set, Submit waits on it before returning
}

type submitOutcome struct {
	txID string
	err  error
}

func (a *scriptedAdapter) Ledger() domain.Ledger { return domain.LedgerMeridian }

func (a *scriptedAdapter) Submit(ctx context.Context, p domain.Payment) (*ledger.Receipt, error) {
	a.mu.Lock()
	a.calls = append(a.calls, p.RecipientID)
	queue := a.scripts[p.RecipientID]
	if len(queue) == 0 {
		a.mu.Unlock()
		return nil, errors.New("no scripted outcome for " + p.RecipientID)
	}
	out := queue[0]
	a.scripts[p.RecipientID] = queue[1:]
	block := a.block
	a.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if out.err != nil {
		return nil, out.err
	}
	return &ledger.Receipt{TransactionID: out.txID, Ledger: domain.LedgerMeridian}, nil
}

// chanRecorder reports every Record call on a channel; fails when broken.
type chanRecorder struct {
	got    chan domain.DonationRecord
	broken bool
}

func (r *chanRecorder) Record(_ context.Context, rec domain.DonationRecord) error {
	r.got <- rec
	if r.broken {
		return errors.New("transparency store unreachable")
	}
	return nil
}

func testPlan() *domain.AllocationPlan {
	dest := func(id string) domain.Destination {
		return domain.Destination{Ledger: domain.LedgerMeridian, Address: "M" + id}
	}
	return &domain.AllocationPlan{
		ID:       "plan-1",
		Total:    10000,
		Currency: "USD",
		Entries: []domain.PlanEntry{
			{RecipientID: "A", DisplayName: "Alpha Relief", Destination: dest("A"), Amount: 5000},
			{RecipientID: "B", DisplayName: "Bridge Aid", Destination: dest("B"), Amount: 3000},
			{RecipientID: "C", DisplayName: "Care Works", Destination: dest("C"), Amount: 2000},
		},
	}
}

func paymentErr(kind ledger.ErrorKind, recipient string) error {
	return &ledger.PaymentError{Kind: kind, Ledger: domain.LedgerMeridian, RecipientID: recipient, Detail: string(kind)}
}

func newTestController(t *testing.T, adapter *scriptedAdapter, rec Recorder) *Controller {
	t.Helper()
	ctrl, err := NewController(testPlan(), ledger.NewRegistry(adapter), rec, "donor.wallet", time.Minute)
	require.NoError(t, err)
	return ctrl
}

func TestStartSettlesAllRecipientsInOrder(t *testing.T) {
	adapter := &scriptedAdapter{scripts: map[string][]submitOutcome{
		"A": {{txID: "tx-a"}},
		"B": {{txID: "tx-b"}},
		"C": {{txID: "tx-c"}},
	}}
	ctrl := newTestController(t, adapter, nil)

	require.NoError(t, ctrl.Start(context.Background()))

	snap := ctrl.Snapshot()
	assert.Equal(t, domain.SessionCompleted, snap.Status)
	assert.Equal(t, 3, snap.Cursor)
	for id, tx := range map[string]string{"A": "tx-a", "B": "tx-b", "C": "tx-c"} {
		st := snap.Recipients[id]
		assert.Equal(t, domain.RecipientConfirmed, st.Status, id)
		assert.Equal(t, tx, st.TransactionID, id)
		assert.NotNil(t, st.ConfirmedAt, id)
	}
	// Strictly plan order, never reordered.
	assert.Equal(t, []string{"A", "B", "C"}, adapter.calls)
}

func TestHaltOnFailureKeepsSessionActive(t *testing.T) {
	// Scenario: A succeeds, B runs out of funds. The session halts at B
	// with C untouched.
	adapter := &scriptedAdapter{scripts: map[string][]submitOutcome{
		"A": {{txID: "tx-a"}},
		"B": {{err: paymentErr(ledger.KindInsufficientFunds, "B")}},
	}}
	ctrl := newTestController(t, adapter, nil)

	require.NoError(t, ctrl.Start(context.Background()))

	snap := ctrl.Snapshot()
	assert.Equal(t, domain.SessionActive, snap.Status)
	assert.Equal(t, 1, snap.Cursor, "cursor stays at B")
	assert.Equal(t, domain.RecipientConfirmed, snap.Recipients["A"].Status)
	assert.Equal(t, domain.RecipientFailed, snap.Recipients["B"].Status)
	assert.Equal(t, string(ledger.KindInsufficientFunds), snap.Recipients["B"].FailureKind)
	assert.Equal(t, domain.RecipientPending, snap.Recipients["C"].Status)
}

func TestRetryCurrentResumesAndChains(t *testing.T) {
	// Scenario: after halting at B, a retry succeeds and C is processed
	// automatically, completing the session.
	adapter := &scriptedAdapter{scripts: map[string][]submitOutcome{
		"A": {{txID: "tx-a"}},
		"B": {{err: paymentErr(ledger.KindNetworkError, "B")}, {txID: "tx-b"}},
		"C": {{txID: "tx-c"}},
	}}
	ctrl := newTestController(t, adapter, nil)

	require.NoError(t, ctrl.Start(context.Background()))
	require.Equal(t, domain.RecipientFailed, ctrl.Snapshot().Recipients["B"].Status)

	require.NoError(t, ctrl.RetryCurrent(context.Background()))

	snap := ctrl.Snapshot()
	assert.Equal(t, domain.SessionCompleted, snap.Status)
	assert.Equal(t, domain.RecipientConfirmed, snap.Recipients["B"].Status)
	assert.Equal(t, domain.RecipientConfirmed, snap.Recipients["C"].Status)
	assert.Equal(t, []string{"A", "B", "B", "C"}, adapter.calls, "A is never re-submitted")
}

func TestRetryCurrentIsNoOpWhenNothingFailed(t *testing.T) {
	adapter := &scriptedAdapter{scripts: map[string][]submitOutcome{
		"A": {{txID: "tx-a"}},
		"B": {{txID: "tx-b"}},
		"C": {{txID: "tx-c"}},
	}}
	ctrl := newTestController(t, adapter, nil)

	// Retry before start: no-op.
	require.NoError(t, ctrl.RetryCurrent(context.Background()))
	assert.Equal(t, domain.SessionIdle, ctrl.Snapshot().Status)

	require.NoError(t, ctrl.Start(context.Background()))
	before := ctrl.Snapshot()

	// Retry after completion: no-op, cursor never decreases.
	require.NoError(t, ctrl.RetryCurrent(context.Background()))
	after := ctrl.Snapshot()
	assert.Equal(t, before.Cursor, after.Cursor)
	assert.Equal(t, before.Status, after.Status)
	assert.Len(t, adapter.calls, 3, "no extra submissions")
}

func TestStartRequiresIdleSession(t *testing.T) {
	adapter := &scriptedAdapter{scripts: map[string][]submitOutcome{
		"A": {{err: paymentErr(ledger.KindUserRejected, "A")}},
	}}
	ctrl := newTestController(t, adapter, nil)

	require.NoError(t, ctrl.Start(context.Background()))
	assert.Error(t, ctrl.Start(context.Background()), "second start must be rejected")
}

func TestRecorderFailureNeverTouchesRecipientState(t *testing.T) {
	// Scenario: the transparency store is unreachable right after B
	// confirms. B stays confirmed, the session proceeds to C, and the
	// failure surfaces as a warning, not a payment error.
	rec := &chanRecorder{got: make(chan domain.DonationRecord, 3), broken: true}
	adapter := &scriptedAdapter{scripts: map[string][]submitOutcome{
		"A": {{txID: "tx-a"}},
		"B": {{txID: "tx-b"}},
		"C": {{txID: "tx-c"}},
	}}
	ctrl := newTestController(t, adapter, rec)

	require.NoError(t, ctrl.Start(context.Background()))

	snap := ctrl.Snapshot()
	assert.Equal(t, domain.SessionCompleted, snap.Status)
	for _, id := range []string{"A", "B", "C"} {
		assert.Equal(t, domain.RecipientConfirmed, snap.Recipients[id].Status, id)
		assert.Empty(t, snap.Recipients[id].FailureKind, id)
	}

	// All three confirmations were offered to the recorder.
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case r := <-rec.got:
			seen[r.TransactionID] = true
			assert.Equal(t, "donor.wallet", r.PayerIdentity)
			assert.Equal(t, domain.RecordConfirmed, r.Status)
		case <-time.After(2 * time.Second):
			t.Fatal("recorder was not notified")
		}
	}
	assert.True(t, seen["tx-a"] && seen["tx-b"] && seen["tx-c"])
}

func TestAbortIsCooperative(t *testing.T) {
	// Abort lands while A's payment is in flight. The in-flight payment
	// still resolves and confirms; B and C are never attempted.
	block := make(chan struct{})
	adapter := &scriptedAdapter{
		scripts: map[string][]submitOutcome{"A": {{txID: "tx-a"}}},
		block:   block,
	}
	ctrl := newTestController(t, adapter, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Start(context.Background())
	}()

	// Wait for A's submission to be in flight.
	require.Eventually(t, func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return len(adapter.calls) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ctrl.Abort())
	assert.Equal(t, domain.SessionAborted, ctrl.Snapshot().Status, "abort is recorded immediately")

	close(block)
	<-done

	snap := ctrl.Snapshot()
	assert.Equal(t, domain.SessionAborted, snap.Status)
	assert.Equal(t, domain.RecipientConfirmed, snap.Recipients["A"].Status, "in-flight payment is never force-cancelled")
	assert.Equal(t, domain.RecipientPending, snap.Recipients["B"].Status)
	assert.Equal(t, domain.RecipientPending, snap.Recipients["C"].Status)
	assert.Equal(t, []string{"A"}, adapter.calls)

	assert.Error(t, ctrl.Abort(), "abort of a non-active session is rejected")
}

func TestSubmitTimeoutBecomesNetworkError(t *testing.T) {
	// The adapter never returns on its own; the controller's per-payment
	// timeout expires and the outcome must be the indeterminate, retryable
	// NetworkError, not a hard failure.
	adapter := &scriptedAdapter{
		scripts: map[string][]submitOutcome{"A": {{txID: "tx-a"}}},
		block:   make(chan struct{}),
	}
	ctrl, err := NewController(testPlan(), ledger.NewRegistry(adapter), nil, "donor.wallet", 20*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(context.Background()))

	snap := ctrl.Snapshot()
	assert.Equal(t, domain.SessionActive, snap.Status)
	st := snap.Recipients["A"]
	assert.Equal(t, domain.RecipientFailed, st.Status)
	assert.Equal(t, string(ledger.KindNetworkError), st.FailureKind)
}

func TestUnregisteredLedgerFailsAsInvalidRecipient(t *testing.T) {
	plan := testPlan()
	plan.Entries[1].Destination.Ledger = domain.Ledger("obscura")

	adapter := &scriptedAdapter{scripts: map[string][]submitOutcome{
		"A": {{txID: "tx-a"}},
	}}
	ctrl, err := NewController(plan, ledger.NewRegistry(adapter), nil, "donor.wallet", time.Minute)
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(context.Background()))

	snap := ctrl.Snapshot()
	assert.Equal(t, domain.RecipientConfirmed, snap.Recipients["A"].Status)
	assert.Equal(t, domain.RecipientFailed, snap.Recipients["B"].Status)
	assert.Equal(t, string(ledger.KindInvalidRecipient), snap.Recipients["B"].FailureKind)
}

func TestControllerRejectsInvalidPlan(t *testing.T) {
	plan := testPlan()
	plan.Entries[0].Amount++ // break the exact-sum invariant

	_, err := NewController(plan, ledger.NewRegistry(), nil, "donor.wallet", time.Minute)
	require.Error(t, err)
}

func TestManager(t *testing.T) {
	adapter := &scriptedAdapter{scripts: map[string][]submitOutcome{}}
	m := NewManager(ledger.NewRegistry(adapter), nil, "donor.wallet", time.Minute)

	ctrl, err := m.Create(testPlan())
	require.NoError(t, err)

	got, ok := m.Get(ctrl.ID())
	require.True(t, ok)
	assert.Same(t, ctrl, got)

	_, ok = m.Get("nope")
	assert.False(t, ok)

	_, err = m.Create(testPlan())
	require.NoError(t, err)
	assert.Len(t, m.List(), 2)
}
