// Package recorder mirrors confirmed settlements into the transparency
// store. It is strictly best-effort: the on-chain transaction is the source
// of truth and a failed mirror attempt is a warning, never a settlement
// failure.
package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/zawadi/disburser/internal/domain"
)

// Warning is the non-fatal outcome of a failed mirror attempt. Callers log
// it; they must never let it alter a confirmed recipient state.
type Warning struct {
	TransactionID string
	Err           error
}

func (w *Warning) Error() string {
	return fmt.Sprintf("transparency record for tx %s not mirrored: %v", w.TransactionID, w.Err)
}

func (w *Warning) Unwrap() error { return w.Err }

// Client posts donation records to the transparency store's ingest
// endpoint, expecting a 201.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{url: url, client: client}
}

func (c *Client) Record(ctx context.Context, rec domain.DonationRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return &Warning{TransactionID: rec.TransactionID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &Warning{TransactionID: rec.TransactionID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &Warning{TransactionID: rec.TransactionID, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusCreated {
		return &Warning{
			TransactionID: rec.TransactionID,
			Err:           fmt.Errorf("store answered %d", resp.StatusCode),
		}
	}
	return nil
}
