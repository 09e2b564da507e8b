package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zawadi/disburser/internal/domain"
	"github.com/zawadi/disburser/internal/money"
)

// koraExp is the kora ledger's native decimal exponent.
const koraExp = 9

// KoraAdapter settles payments on the kora ledger through the platform's
// donation registry contract. The recipient is a string handle resolved
// inside the contract, not an address. The node only acknowledges
// acceptance, so Submit polls the call status until it is determinate.
//
// A NetworkError from Submit may leave a call in flight; deduplication of a
// retried call relies entirely on the chain's own duplicate-transaction
// detection. Known limitation: this adapter carries no idempotency key.
type KoraAdapter struct {
	baseURL   string
	contract  string
	sender    string
	exp       int // plan currency exponent
	signer    Signer
	client    *http.Client
	pollEvery time.Duration
}

func NewKoraAdapter(baseURL, contract, sender string, planExp int, signer Signer, client *http.Client) *KoraAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &KoraAdapter{
		baseURL:   baseURL,
		contract:  contract,
		sender:    sender,
		exp:       planExp,
		signer:    signer,
		client:    client,
		pollEvery: 2 * time.Second,
	}
}

func (a *KoraAdapter) Ledger() domain.Ledger { return domain.LedgerKora }

type koraCall struct {
	Sender   string            `json:"sender"`
	Contract string            `json:"contract"`
	Method   string            `json:"method"`
	Args     map[string]string `json:"args"`
	Deposit  string            `json:"deposit"` // native units, 9 decimal places
}

type koraCallStatus struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"` // accepted | succeeded | failed
	Error  string `json:"error"`
}

func (a *KoraAdapter) Submit(ctx context.Context, p domain.Payment) (*Receipt, error) {
	native, err := money.Rescale(p.Amount, a.exp, koraExp)
	if err != nil {
		return nil, a.fail(p, KindUnknown, "encode amount", err)
	}
	rawTx, err := json.Marshal(koraCall{
		Sender:   a.sender,
		Contract: a.contract,
		Method:   "donate",
		Args:     map[string]string{"recipient": p.Destination.Address},
		Deposit:  fmt.Sprintf("%d", native),
	})
	if err != nil {
		return nil, a.fail(p, KindUnknown, "encode call", err)
	}

	signed, err := a.signer.SignAndSubmit(ctx, rawTx)
	if err != nil {
		return nil, a.fail(p, signerErrKind(err), "", err)
	}
	traceSigned(ctx)

	status, httpStatus, err := a.postCall(ctx, signed)
	if err != nil {
		if httpStatus == 0 {
			return nil, a.fail(p, KindNetworkError, "", err)
		}
		// The node answered, so the call was determinately rejected; an
		// undecodable body is not a transport failure.
		return nil, a.fail(p, KindUnknown, fmt.Sprintf("node status %d", httpStatus), err)
	}
	if httpStatus >= 500 {
		return nil, a.fail(p, KindNetworkError, fmt.Sprintf("node status %d", httpStatus), nil)
	}
	if httpStatus != http.StatusAccepted && httpStatus != http.StatusOK {
		return nil, a.fail(p, KindUnknown, fmt.Sprintf("node status %d: %s", httpStatus, status.Error), nil)
	}
	if status.TxHash == "" {
		return nil, a.fail(p, KindUnknown, "node accepted the call without a tx hash", nil)
	}

	// The node answered accepted-for-processing; poll until the call lands.
	for {
		switch status.Status {
		case "succeeded":
			return &Receipt{TransactionID: status.TxHash, Ledger: domain.LedgerKora}, nil
		case "failed":
			return nil, a.classifyContractError(p, status.Error)
		}

		select {
		case <-ctx.Done():
			// The call is still in flight on the chain; the outcome is
			// indeterminate, not a failure.
			return nil, a.fail(p, KindNetworkError, "timed out awaiting confirmation", ctx.Err())
		case <-time.After(a.pollEvery):
		}

		status, err = a.getCallStatus(ctx, status.TxHash)
		if err != nil {
			return nil, a.fail(p, KindNetworkError, "", err)
		}
	}
}

func (a *KoraAdapter) postCall(ctx context.Context, signed []byte) (*koraCallStatus, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/calls", bytes.NewReader(signed))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var status koraCallStatus
	if err := decodeBody(resp.Body, &status); err != nil && resp.StatusCode < 500 {
		return nil, resp.StatusCode, fmt.Errorf("decode node response: %w", err)
	}
	return &status, resp.StatusCode, nil
}

func (a *KoraAdapter) getCallStatus(ctx context.Context, txHash string) (*koraCallStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/calls/"+txHash, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint answered %d", resp.StatusCode)
	}

	var status koraCallStatus
	if err := decodeBody(resp.Body, &status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}

// classifyContractError maps the registry contract's failure strings onto
// the shared taxonomy.
func (a *KoraAdapter) classifyContractError(p domain.Payment, contractErr string) *PaymentError {
	kind := KindUnknown
	switch contractErr {
	case "HandleNotFound":
		kind = KindInvalidRecipient
	case "NotEnoughBalance", "LackBalanceForState":
		kind = KindInsufficientFunds
	}
	return &PaymentError{
		Kind:        kind,
		Ledger:      domain.LedgerKora,
		RecipientID: p.RecipientID,
		Detail:      contractErr,
	}
}

func (a *KoraAdapter) fail(p domain.Payment, kind ErrorKind, detail string, err error) *PaymentError {
	return &PaymentError{
		Kind:        kind,
		Ledger:      domain.LedgerKora,
		RecipientID: p.RecipientID,
		Detail:      detail,
		Err:         err,
	}
}

func decodeBody(r io.Reader, out any) error {
	body, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
