package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zawadi/disburser/internal/allocation"
	"github.com/zawadi/disburser/internal/domain"
	"github.com/zawadi/disburser/internal/ledger"
	"github.com/zawadi/disburser/internal/money"
	"github.com/zawadi/disburser/internal/repository"
	"github.com/zawadi/disburser/internal/settlement"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	donationRepo *repository.DonationRepo
	sessions     *settlement.Manager
	oracle       ledger.Oracle
	currency     string
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// --- CreatePlan ---

type createPlanRequest struct {
	Total      string             `json:"total"`
	Currency   string             `json:"currency"`
	Recipients []domain.Recipient `json:"recipients"`
	// Fixed holds user-edited amounts, keyed by recipient ID, as decimal
	// strings. Fixed amounts are never altered by the allocation.
	Fixed map[string]string `json:"fixed,omitempty"`
}

func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Currency == "" {
		req.Currency = h.currency
	}

	exp, err := money.Exponent(req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	total, err := money.ParseDecimal(req.Total, exp)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid total: "+err.Error())
		return
	}

	var fixed map[string]int64
	if len(req.Fixed) > 0 {
		fixed = make(map[string]int64, len(req.Fixed))
		for id, s := range req.Fixed {
			amt, err := money.ParseDecimal(s, exp)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid fixed amount for "+id+": "+err.Error())
				return
			}
			fixed[id] = amt
		}
	}

	plan, err := allocation.BuildPlan(total, req.Currency, req.Recipients, fixed)
	if err != nil {
		if errors.Is(err, allocation.ErrInfeasible) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, planResponse(plan, exp))
}

// planResponse decorates plan entries with display-formatted amounts.
func planResponse(plan *domain.AllocationPlan, exp int) map[string]any {
	entries := make([]map[string]any, len(plan.Entries))
	for i, e := range plan.Entries {
		entries[i] = map[string]any{
			"recipient_id":     e.RecipientID,
			"display_name":     e.DisplayName,
			"destination":      e.Destination,
			"amount":           e.Amount,
			"amount_formatted": money.FormatUnits(e.Amount, exp),
		}
	}
	return map[string]any{
		"id":              plan.ID,
		"total":           plan.Total,
		"total_formatted": money.FormatUnits(plan.Total, exp),
		"currency":        plan.Currency,
		"entries":         entries,
	}
}

// --- GetBalance ---

func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner := q.Get("owner")
	l := q.Get("ledger")
	asset := q.Get("asset")
	if owner == "" || l == "" || asset == "" {
		writeError(w, http.StatusBadRequest, "owner, ledger and asset are required")
		return
	}

	balance, err := h.oracle.SpendableBalance(r.Context(), owner, domain.Ledger(l), asset)
	if err != nil {
		// A failed check is not a zero balance; make that visible.
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	exp, _ := money.Exponent(h.currency)
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":             owner,
		"ledger":            l,
		"asset":             asset,
		"balance":           balance,
		"balance_formatted": money.FormatUnits(balance, exp),
	})
}

// --- Sessions ---

type createSessionRequest struct {
	Plan *domain.AllocationPlan `json:"plan"`
}

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Plan == nil {
		writeError(w, http.StatusBadRequest, "plan is required")
		return
	}
	if req.Plan.ID == "" {
		req.Plan.ID = uuid.NewString()
	}

	ctrl, err := h.sessions.Create(req.Plan)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, ctrl.Snapshot())
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.sessions.List()})
}

func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if ctrl.Snapshot().Status != domain.SessionIdle {
		writeError(w, http.StatusConflict, "session already started")
		return
	}

	// Settlement runs in the background; payments may take a while on
	// chains that need confirmation polling. Clients follow progress via
	// GET on the session.
	go func() {
		if err := ctrl.Start(context.Background()); err != nil {
			log.Printf("[api] start session %s: %v", ctrl.ID(), err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": ctrl.ID(), "status": "starting"})
}

func (h *Handlers) RetrySession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	go func() {
		if err := ctrl.RetryCurrent(context.Background()); err != nil {
			log.Printf("[api] retry session %s: %v", ctrl.ID(), err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": ctrl.ID(), "status": "retrying"})
}

func (h *Handlers) AbortSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := ctrl.Abort(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// --- Records (transparency store) ---

func (h *Handlers) IngestRecord(w http.ResponseWriter, r *http.Request) {
	var rec domain.DonationRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if rec.TransactionID == "" || rec.RecipientName == "" || rec.Ledger == "" {
		writeError(w, http.StatusBadRequest, "transaction_id, recipient_name and ledger are required")
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = domain.RecordConfirmed
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	inserted, err := h.donationRepo.Insert(&rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        rec.ID,
		"duplicate": !inserted,
	})
}

func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.DonationFilter{
		Ledger:    q.Get("ledger"),
		Recipient: q.Get("recipient"),
		From:      parseTime(q.Get("from")),
		To:        parseTime(q.Get("to")),
		Page:      parseIntDefault(q.Get("page"), 1),
		Limit:     parseIntDefault(q.Get("limit"), 50),
	}

	records, total, err := h.donationRepo.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

func (h *Handlers) GetRecordSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.donationRepo.GetSummary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
