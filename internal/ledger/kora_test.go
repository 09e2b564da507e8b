package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zawadi/disburser/internal/domain"
)

func koraPayment(amount int64) domain.Payment {
	return domain.Payment{
		RecipientID: "r2",
		Destination: domain.Destination{Ledger: domain.LedgerKora, Address: "open-textbooks"},
		Amount:      amount,
		Currency:    "USD",
	}
}

// koraNode fakes the node's accept-then-poll protocol. finalStatus is
// reported after pollsUntilFinal status queries.
func koraNode(t *testing.T, pollsUntilFinal int32, final koraCallStatus) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /calls", func(w http.ResponseWriter, r *http.Request) {
		var call koraCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		assert.Equal(t, "donate", call.Method)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(koraCallStatus{TxHash: "hash-1", Status: "accepted"})
	})
	mux.HandleFunc("GET /calls/hash-1", func(w http.ResponseWriter, r *http.Request) {
		st := koraCallStatus{TxHash: "hash-1", Status: "accepted"}
		if polls.Add(1) >= pollsUntilFinal {
			st = final
		}
		json.NewEncoder(w).Encode(st)
	})
	return httptest.NewServer(mux), &polls
}

func newTestKora(srv *httptest.Server) *KoraAdapter {
	a := NewKoraAdapter(srv.URL, "donations.registry", "donor.wallet", 2, approveSigner{}, srv.Client())
	a.pollEvery = time.Millisecond
	return a
}

func TestKoraSubmitPollsUntilSucceeded(t *testing.T) {
	srv, polls := koraNode(t, 3, koraCallStatus{TxHash: "hash-1", Status: "succeeded"})
	defer srv.Close()

	receipt, err := newTestKora(srv).Submit(context.Background(), koraPayment(3334))
	require.NoError(t, err)
	assert.Equal(t, "hash-1", receipt.TransactionID)
	assert.Equal(t, domain.LedgerKora, receipt.Ledger)
	assert.GreaterOrEqual(t, polls.Load(), int32(3), "must keep polling until the call lands")
}

func TestKoraContractErrorMapping(t *testing.T) {
	cases := map[string]struct {
		contractErr string
		wantKind    ErrorKind
	}{
		"unknown handle":     {contractErr: "HandleNotFound", wantKind: KindInvalidRecipient},
		"underfunded sender": {contractErr: "NotEnoughBalance", wantKind: KindInsufficientFunds},
		"anything else":      {contractErr: "MethodPanicked", wantKind: KindUnknown},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := koraNode(t, 1, koraCallStatus{TxHash: "hash-1", Status: "failed", Error: tc.contractErr})
			defer srv.Close()

			_, err := newTestKora(srv).Submit(context.Background(), koraPayment(100))
			var perr *PaymentError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.wantKind, perr.Kind)
			assert.Equal(t, tc.contractErr, perr.Detail, "contract error is surfaced verbatim")
		})
	}
}

func TestKoraPollTimeoutIsIndeterminate(t *testing.T) {
	// The node never reports a final status; an expiring context means the
	// outcome is unknown, which must surface as a retryable NetworkError.
	srv, _ := koraNode(t, 1<<30, koraCallStatus{})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	_, err := newTestKora(srv).Submit(ctx, koraPayment(100))
	var perr *PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindNetworkError, perr.Kind)
	assert.True(t, perr.Kind.Retryable())
}

func TestKoraUndecodableRejectionIsNotRetryable(t *testing.T) {
	// A 4xx with a non-JSON body is a determinate rejection by the node; it
	// must not be classified as a transient transport failure.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /calls", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("malformed call"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestKora(srv).Submit(context.Background(), koraPayment(100))
	var perr *PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUnknown, perr.Kind)
	assert.Contains(t, perr.Detail, "node status 400")
	assert.False(t, perr.Kind.Retryable())
}

func TestKoraSignerRejection(t *testing.T) {
	srv, _ := koraNode(t, 1, koraCallStatus{})
	defer srv.Close()

	a := NewKoraAdapter(srv.URL, "donations.registry", "donor.wallet", 2, rejectSigner{}, srv.Client())

	_, err := a.Submit(context.Background(), koraPayment(100))
	var perr *PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUserRejected, perr.Kind)
}

func TestKoraNativeDepositEncoding(t *testing.T) {
	var gotDeposit string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /calls", func(w http.ResponseWriter, r *http.Request) {
		var call koraCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		gotDeposit = call.Deposit
		json.NewEncoder(w).Encode(koraCallStatus{TxHash: "h", Status: "succeeded"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestKora(srv).Submit(context.Background(), koraPayment(3334))
	require.NoError(t, err)
	// 33.34 at plan precision 2 becomes 33.34 * 10^9 native units.
	assert.Equal(t, "33340000000", gotDeposit)
}
