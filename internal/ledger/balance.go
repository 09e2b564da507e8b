package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/zawadi/disburser/internal/domain"
	"github.com/zawadi/disburser/internal/money"
)

// Oracle answers how much an owner can spend on a ledger. Advisory only:
// callers use it to cap a plan total before settlement starts, the
// settlement controller itself never consults it. Failures come back as a
// *BalanceQueryError, never as a zero balance.
type Oracle interface {
	SpendableBalance(ctx context.Context, owner string, l domain.Ledger, asset string) (int64, error)
}

// ledgerEndpoint is one chain's balance RPC location and native precision.
type ledgerEndpoint struct {
	baseURL   string
	nativeExp int
}

// HTTPOracle queries each configured ledger's balance RPC and reports the
// result in plan minor units.
type HTTPOracle struct {
	endpoints map[domain.Ledger]ledgerEndpoint
	planExp   int
	client    *http.Client
}

func NewHTTPOracle(meridianURL, koraURL string, planExp int, client *http.Client) *HTTPOracle {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOracle{
		endpoints: map[domain.Ledger]ledgerEndpoint{
			domain.LedgerMeridian: {baseURL: meridianURL, nativeExp: meridianExp},
			domain.LedgerKora:     {baseURL: koraURL, nativeExp: koraExp},
		},
		planExp: planExp,
		client:  client,
	}
}

type balanceResponse struct {
	Balance string `json:"balance"` // decimal string in native precision
	Asset   string `json:"asset"`
}

func (o *HTTPOracle) SpendableBalance(ctx context.Context, owner string, l domain.Ledger, asset string) (int64, error) {
	ep, ok := o.endpoints[l]
	if !ok {
		return 0, &BalanceQueryError{Ledger: l, Owner: owner, Err: fmt.Errorf("no balance endpoint configured")}
	}

	url := fmt.Sprintf("%s/accounts/%s/balance?asset=%s", ep.baseURL, owner, asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &BalanceQueryError{Ledger: l, Owner: owner, Err: err}
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, &BalanceQueryError{Ledger: l, Owner: owner, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &BalanceQueryError{
			Ledger: l, Owner: owner,
			Err: fmt.Errorf("balance RPC answered %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, &BalanceQueryError{Ledger: l, Owner: owner, Err: err}
	}
	var out balanceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, &BalanceQueryError{Ledger: l, Owner: owner, Err: fmt.Errorf("decode balance: %w", err)}
	}

	native, err := money.ParseDecimal(out.Balance, ep.nativeExp)
	if err != nil {
		return 0, &BalanceQueryError{Ledger: l, Owner: owner, Err: fmt.Errorf("malformed balance %q: %w", out.Balance, err)}
	}

	// Round down to plan precision: an advisory cap must never overstate
	// what is spendable.
	spendable := native / pow10(ep.nativeExp-o.planExp)
	return spendable, nil
}

func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
