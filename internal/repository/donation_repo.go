package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/zawadi/disburser/internal/domain"
)

type DonationRepo struct {
	db *sql.DB
}

func NewDonationRepo(db *sql.DB) *DonationRepo {
	return &DonationRepo{db: db}
}

// Insert stores one donation record. Inserts are idempotent on the on-chain
// transaction ID: mirroring the same confirmed settlement twice is not an
// error and reports inserted=false.
func (r *DonationRepo) Insert(rec *domain.DonationRecord) (bool, error) {
	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO donation_records
		(id, transaction_id, payer_identity, recipient_name, recipient_destination,
		 amount, currency, ledger, status, recorded_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.TransactionID, rec.PayerIdentity, rec.RecipientName,
		rec.RecipientDestination, rec.Amount, rec.Currency, string(rec.Ledger),
		string(rec.Status), rec.RecordedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("insert donation record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetByTransactionID returns the record mirroring the given on-chain
// transaction, or nil when none exists.
func (r *DonationRepo) GetByTransactionID(txID string) (*domain.DonationRecord, error) {
	row := r.db.QueryRow(
		"SELECT * FROM donation_records WHERE transaction_id = ?", txID,
	)
	rec, err := scanDonationRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

type DonationFilter struct {
	Ledger    string
	Recipient string
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}

// List returns matching donation records, newest first, with the total
// match count for pagination.
func (r *DonationRepo) List(f DonationFilter) ([]domain.DonationRecord, int, error) {
	where, args := buildDonationWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM donation_records"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	q := "SELECT * FROM donation_records" + where + " ORDER BY recorded_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []domain.DonationRecord
	for rows.Next() {
		rec, err := scanDonationRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *rec)
	}
	return records, total, rows.Err()
}

// LedgerVolume is one ledger's slice of the transparency summary.
type LedgerVolume struct {
	Ledger string `json:"ledger"`
	Count  int    `json:"count"`
	Amount int64  `json:"amount"`
}

// Summary aggregates the store for the public transparency dashboard.
type Summary struct {
	TotalCount int              `json:"total_count"`
	ByLedger   []LedgerVolume   `json:"by_ledger"`
	ByCurrency map[string]int64 `json:"by_currency"`
}

func (r *DonationRepo) GetSummary() (*Summary, error) {
	s := &Summary{ByCurrency: make(map[string]int64)}

	if err := r.db.QueryRow("SELECT COUNT(*) FROM donation_records").Scan(&s.TotalCount); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	rows, err := r.db.Query(
		`SELECT ledger, COUNT(*), COALESCE(SUM(amount), 0)
		 FROM donation_records GROUP BY ledger ORDER BY ledger`,
	)
	if err != nil {
		return nil, fmt.Errorf("by ledger: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lv LedgerVolume
		if err := rows.Scan(&lv.Ledger, &lv.Count, &lv.Amount); err != nil {
			return nil, err
		}
		s.ByLedger = append(s.ByLedger, lv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	curRows, err := r.db.Query(
		"SELECT currency, COALESCE(SUM(amount), 0) FROM donation_records GROUP BY currency",
	)
	if err != nil {
		return nil, fmt.Errorf("by currency: %w", err)
	}
	defer curRows.Close()
	for curRows.Next() {
		var cur string
		var amt int64
		if err := curRows.Scan(&cur, &amt); err != nil {
			return nil, err
		}
		s.ByCurrency[cur] = amt
	}
	return s, curRows.Err()
}

func (r *DonationRepo) Count() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM donation_records").Scan(&n)
	return n, err
}

func buildDonationWhere(f DonationFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Ledger != "" {
		clauses = append(clauses, "ledger = ?")
		args = append(args, f.Ledger)
	}
	if f.Recipient != "" {
		clauses = append(clauses, "recipient_name = ?")
		args = append(args, f.Recipient)
	}
	if f.From != nil {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, f.From.Format(time.RFC3339))
	}
	if f.To != nil {
		clauses = append(clauses, "recorded_at <= ?")
		args = append(args, f.To.Format(time.RFC3339))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanDonationRecord(row scannable) (*domain.DonationRecord, error) {
	var rec domain.DonationRecord
	var ledgerStr, statusStr, recordedStr string

	err := row.Scan(
		&rec.ID, &rec.TransactionID, &rec.PayerIdentity, &rec.RecipientName,
		&rec.RecipientDestination, &rec.Amount, &rec.Currency, &ledgerStr,
		&statusStr, &recordedStr,
	)
	if err != nil {
		return nil, err
	}

	rec.Ledger = domain.Ledger(ledgerStr)
	rec.Status = domain.RecordStatus(statusStr)
	rec.RecordedAt, _ = time.Parse(time.RFC3339, recordedStr)

	return &rec, nil
}
