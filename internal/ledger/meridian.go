package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/zawadi/disburser/internal/domain"
	"github.com/zawadi/disburser/internal/money"
)

// meridianExp is the meridian ledger's native decimal exponent. Plan minor
// units are rescaled to it half-up at the encoding boundary.
const meridianExp = 7

// isMeridianAddress validates the ledger's account address format before
// any network traffic happens.
var isMeridianAddress = regexp.MustCompile(`^M[A-Z2-7]{27,55}$`).MatchString

// MeridianAdapter settles payments on the meridian ledger: account-based,
// direct value transfer to a plain address. The gateway reports a final
// status synchronously, so Submit needs no polling.
type MeridianAdapter struct {
	baseURL string
	source  string
	exp     int // plan currency exponent
	signer  Signer
	client  *http.Client
}

func NewMeridianAdapter(baseURL, sourceAccount string, planExp int, signer Signer, client *http.Client) *MeridianAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &MeridianAdapter{
		baseURL: baseURL,
		source:  sourceAccount,
		exp:     planExp,
		signer:  signer,
		client:  client,
	}
}

func (a *MeridianAdapter) Ledger() domain.Ledger { return domain.LedgerMeridian }

type meridianTransfer struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"` // native units, 7 decimal places
	Asset       string `json:"asset"`
}

type meridianSubmitResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Detail    string `json:"detail"`
}

func (a *MeridianAdapter) Submit(ctx context.Context, p domain.Payment) (*Receipt, error) {
	if !isMeridianAddress(p.Destination.Address) {
		return nil, &PaymentError{
			Kind:        KindInvalidRecipient,
			Ledger:      domain.LedgerMeridian,
			RecipientID: p.RecipientID,
			Detail:      fmt.Sprintf("malformed address %q", p.Destination.Address),
		}
	}

	native, err := money.Rescale(p.Amount, a.exp, meridianExp)
	if err != nil {
		return nil, a.failUnknown(p, "encode amount", err)
	}
	rawTx, err := json.Marshal(meridianTransfer{
		Source:      a.source,
		Destination: p.Destination.Address,
		Amount:      money.FormatUnits(native, meridianExp),
		Asset:       p.Currency,
	})
	if err != nil {
		return nil, a.failUnknown(p, "encode transfer", err)
	}

	signed, err := a.signer.SignAndSubmit(ctx, rawTx)
	if err != nil {
		return nil, a.classifySignerErr(p, err)
	}
	traceSigned(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/transactions", bytes.NewReader(signed))
	if err != nil {
		return nil, a.failUnknown(p, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		// Transport failures and timeouts are indeterminate: the gateway
		// may have accepted the transaction before the connection died.
		return nil, &PaymentError{
			Kind:        KindNetworkError,
			Ledger:      domain.LedgerMeridian,
			RecipientID: p.RecipientID,
			Err:         err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &PaymentError{
			Kind:        KindNetworkError,
			Ledger:      domain.LedgerMeridian,
			RecipientID: p.RecipientID,
			Err:         err,
		}
	}

	if resp.StatusCode >= 500 {
		return nil, &PaymentError{
			Kind:        KindNetworkError,
			Ledger:      domain.LedgerMeridian,
			RecipientID: p.RecipientID,
			Detail:      fmt.Sprintf("gateway status %d", resp.StatusCode),
		}
	}

	var out meridianSubmitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, a.failUnknown(p, fmt.Sprintf("undecodable gateway response (status %d): %s", resp.StatusCode, body), nil)
	}

	if resp.StatusCode == http.StatusOK && out.Status == "success" {
		return &Receipt{TransactionID: out.ID, Ledger: domain.LedgerMeridian}, nil
	}

	return nil, a.classifyGatewayCode(p, out)
}

func (a *MeridianAdapter) classifyGatewayCode(p domain.Payment, out meridianSubmitResponse) *PaymentError {
	kind := KindUnknown
	switch out.ErrorCode {
	case "op_underfunded", "tx_insufficient_balance":
		kind = KindInsufficientFunds
	case "op_no_account", "op_no_destination":
		kind = KindInvalidRecipient
	}
	detail := out.ErrorCode
	if out.Detail != "" {
		detail += ": " + out.Detail
	}
	return &PaymentError{
		Kind:        kind,
		Ledger:      domain.LedgerMeridian,
		RecipientID: p.RecipientID,
		Detail:      detail,
	}
}

func (a *MeridianAdapter) classifySignerErr(p domain.Payment, err error) *PaymentError {
	return &PaymentError{
		Kind:        signerErrKind(err),
		Ledger:      domain.LedgerMeridian,
		RecipientID: p.RecipientID,
		Err:         err,
	}
}

func (a *MeridianAdapter) failUnknown(p domain.Payment, detail string, err error) *PaymentError {
	return &PaymentError{
		Kind:        KindUnknown,
		Ledger:      domain.LedgerMeridian,
		RecipientID: p.RecipientID,
		Detail:      detail,
		Err:         err,
	}
}
