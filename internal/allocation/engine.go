package allocation

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/zawadi/disburser/internal/domain"
)

// ErrInfeasible means no valid allocation exists for the given inputs. The
// engine never silently clamps an input to make one exist.
var ErrInfeasible = errors.New("allocation infeasible")

// Weighted is a recipient's entry in the weight pool.
type Weighted struct {
	ID     string
	Weight float64
}

// Allocate splits total minor units across recipients in proportion to their
// weights. Every recipient except the last in list order gets
// round(total * w / S) with half-up rounding; the last receives whatever
// remains, so the amounts always sum to total exactly regardless of
// accumulated rounding error. When all weights are zero the split is equal,
// with the same remainder rule.
//
// The remainder goes to the final element of the input list, not the largest
// or smallest weight. Callers relying on who absorbs the rounding leftover
// control it through input order.
func Allocate(total int64, recipients []Weighted) (map[string]int64, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: total must be positive, got %d", ErrInfeasible, total)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInfeasible)
	}

	var weightSum float64
	for _, r := range recipients {
		if r.Weight < 0 {
			return nil, fmt.Errorf("%w: negative weight %v for %s", ErrInfeasible, r.Weight, r.ID)
		}
		weightSum += r.Weight
	}

	amounts := make(map[string]int64, len(recipients))
	var assigned int64
	for i, r := range recipients {
		if i == len(recipients)-1 {
			rest := total - assigned
			if rest < 0 {
				// Rounding pushed the earlier shares past the total; the
				// total is too small to split at this precision.
				return nil, fmt.Errorf("%w: total %d too small to split across %d recipients",
					ErrInfeasible, total, len(recipients))
			}
			amounts[r.ID] = rest
			break
		}

		var share float64
		if weightSum > 0 {
			share = float64(total) * r.Weight / weightSum
		} else {
			share = float64(total) / float64(len(recipients))
		}
		a := halfUp(share)
		amounts[r.ID] = a
		assigned += a
	}

	return amounts, nil
}

// AllocateWithFixed allocates with manual per-recipient overrides. Fixed
// amounts are taken as-is and never altered; the remaining total is
// allocated over the remaining recipients by Allocate. Overrides for
// recipients not in the list are rejected rather than ignored.
func AllocateWithFixed(total int64, recipients []Weighted, fixed map[string]int64) (map[string]int64, error) {
	if len(fixed) == 0 {
		return Allocate(total, recipients)
	}

	known := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		known[r.ID] = true
	}

	var fixedSum int64
	for id, amt := range fixed {
		if !known[id] {
			return nil, fmt.Errorf("%w: fixed amount for unknown recipient %s", ErrInfeasible, id)
		}
		if amt < 0 {
			return nil, fmt.Errorf("%w: negative fixed amount %d for %s", ErrInfeasible, amt, id)
		}
		fixedSum += amt
	}

	pool := make([]Weighted, 0, len(recipients))
	for _, r := range recipients {
		if _, ok := fixed[r.ID]; !ok {
			pool = append(pool, r)
		}
	}

	remaining := total - fixedSum
	amounts := make(map[string]int64, len(recipients))
	for id, amt := range fixed {
		amounts[id] = amt
	}

	if len(pool) == 0 {
		if remaining != 0 {
			return nil, fmt.Errorf("%w: fixed amounts sum to %d, want total %d", ErrInfeasible, fixedSum, total)
		}
		return amounts, nil
	}

	rest, err := Allocate(remaining, pool)
	if err != nil {
		return nil, err
	}
	for id, amt := range rest {
		amounts[id] = amt
	}
	return amounts, nil
}

// BuildPlan runs the allocation and assembles an ordered plan. Entry order
// follows the input recipient order, which in turn drives settlement order.
func BuildPlan(total int64, currency string, recipients []domain.Recipient, fixed map[string]int64) (*domain.AllocationPlan, error) {
	pool := make([]Weighted, len(recipients))
	for i, r := range recipients {
		pool[i] = Weighted{ID: r.ID, Weight: r.Weight}
	}

	amounts, err := AllocateWithFixed(total, pool, fixed)
	if err != nil {
		return nil, err
	}

	plan := &domain.AllocationPlan{
		ID:       uuid.NewString(),
		Total:    total,
		Currency: currency,
		Entries:  make([]domain.PlanEntry, len(recipients)),
	}
	for i, r := range recipients {
		plan.Entries[i] = domain.PlanEntry{
			RecipientID: r.ID,
			DisplayName: r.DisplayName,
			Destination: r.Destination,
			Amount:      amounts[r.ID],
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("built plan failed validation: %w", err)
	}
	return plan, nil
}

func halfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
