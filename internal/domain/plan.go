package domain

import "fmt"

// PlanEntry is one recipient's share of an allocation plan. Amount is in
// minor units of the plan currency. Entry order is fixed at plan creation
// and determines settlement order.
type PlanEntry struct {
	RecipientID string      `json:"recipient_id"`
	DisplayName string      `json:"display_name"`
	Destination Destination `json:"destination"`
	Amount      int64       `json:"amount"`
}

// AllocationPlan maps one donation total onto an ordered list of recipients.
// The entry amounts always sum to Total exactly.
type AllocationPlan struct {
	ID       string      `json:"id"`
	Total    int64       `json:"total"`
	Currency string      `json:"currency"`
	Entries  []PlanEntry `json:"entries"`
}

// Validate checks the plan's structural invariants: a positive total,
// non-negative entry amounts, and amounts summing to the total exactly.
func (p *AllocationPlan) Validate() error {
	if p.Total <= 0 {
		return fmt.Errorf("plan total must be positive, got %d", p.Total)
	}
	if p.Currency == "" {
		return fmt.Errorf("plan currency is required")
	}
	if len(p.Entries) == 0 {
		return fmt.Errorf("plan has no entries")
	}
	var sum int64
	for i, e := range p.Entries {
		if e.RecipientID == "" {
			return fmt.Errorf("entry %d: recipient id is required", i)
		}
		if e.Amount < 0 {
			return fmt.Errorf("entry %d (%s): negative amount %d", i, e.RecipientID, e.Amount)
		}
		sum += e.Amount
	}
	if sum != p.Total {
		return fmt.Errorf("entry amounts sum to %d, want total %d", sum, p.Total)
	}
	return nil
}
