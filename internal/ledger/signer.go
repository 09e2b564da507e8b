package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrSignerRejected is returned by a Signer when the user declines to
// approve a transaction. Adapters map it to KindUserRejected.
var ErrSignerRejected = errors.New("signer: user rejected transaction")

// signerErrKind maps a signing failure onto the payment taxonomy: an
// explicit decline is UserRejected, an unreachable wallet or an expired
// context is transient, anything else is surfaced verbatim.
func signerErrKind(err error) ErrorKind {
	var uerr *url.Error
	switch {
	case errors.Is(err, ErrSignerRejected):
		return KindUserRejected
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindNetworkError
	case errors.As(err, &uerr):
		return KindNetworkError
	default:
		return KindUnknown
	}
}

// Signer is the wallet boundary. SignAndSubmit presents a raw transaction
// for approval and returns the signed envelope, ready for submission to the
// ledger. Key material never enters this process.
type Signer interface {
	SignAndSubmit(ctx context.Context, rawTx []byte) ([]byte, error)
}

// WalletSigner asks an external wallet service to sign. The service answers
// 200 with the signed envelope, or 403 when the user declines.
type WalletSigner struct {
	url    string
	client *http.Client
}

func NewWalletSigner(url string, client *http.Client) *WalletSigner {
	if client == nil {
		client = http.DefaultClient
	}
	return &WalletSigner{url: url, client: client}
}

func (s *WalletSigner) SignAndSubmit(ctx context.Context, rawTx []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(rawTx))
	if err != nil {
		return nil, fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("wallet service: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrSignerRejected
	default:
		return nil, fmt.Errorf("wallet service: unexpected status %d: %s", resp.StatusCode, body)
	}
}
