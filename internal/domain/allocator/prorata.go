package allocator

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Share is a weighted slice of a parent amount.
type Share struct {
	LedgerCode    string
	PaymentMethod string
	Memo          string
	Weight        decimal.Decimal
}

// ProRata distributes parentAmount across shares proportionally to their
// weights. The result always sums exactly to parentAmount:
//
//	multiplier = parent_amount / sum(weights)
//	part = round(weight * multiplier)
//
// Any rounding residual is added to the largest part.
func ProRata(parentAmount decimal.Decimal, shares []Share, places int32) ([]Part, error) {
	if len(shares) == 0 {
		return nil, errors.New("no shares to allocate")
	}

	// Step 1: Sum weights
	total := decimal.Zero
	for _, s := range shares {
		if s.Weight.IsNegative() {
			return nil, errors.New("share weight cannot be negative")
		}
		total = total.Add(s.Weight)
	}
	if total.IsZero() {
		return nil, errors.New("share weights sum to zero")
	}

	// Step 2: Allocate each share
	parts := make([]Part, len(shares))
	allocated := decimal.Zero
	largest := 0
	for i, s := range shares {
		amount := parentAmount.Mul(s.Weight).Div(total).Round(places)
		parts[i] = Part{
			Amount:        amount,
			LedgerCode:    s.LedgerCode,
			PaymentMethod: s.PaymentMethod,
			Memo:          s.Memo,
		}
		allocated = allocated.Add(amount)
		if amount.Abs().GreaterThan(parts[largest].Amount.Abs()) {
			largest = i
		}
	}

	// Step 3: Fix rounding on the largest part
	if diff := parentAmount.Sub(allocated); !diff.IsZero() {
		parts[largest].Amount = parts[largest].Amount.Add(diff)
	}

	return parts, nil
}
