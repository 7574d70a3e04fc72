package engine

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SubmitRequest is what a gateway hands to SubmitOrder. Price is optional and
// ignored for market orders.
type SubmitRequest struct {
	User   string
	Side   Side
	Mode   Mode
	Amount decimal.Decimal
	Price  decimal.NullDecimal
}

// orderSpec is a validated SubmitRequest.
type orderSpec struct {
	user   string
	side   Side
	mode   Mode
	amount decimal.Decimal
	price  decimal.Decimal
}

// Validate checks a request without touching engine state.
func (r SubmitRequest) Validate() error {
	_, err := r.spec()
	return err
}

func (r SubmitRequest) spec() (orderSpec, error) {
	user := strings.TrimSpace(r.User)
	if user == "" {
		return orderSpec{}, &ValidationError{Field: "user", Reason: "required"}
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return orderSpec{}, &ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if r.Mode != ModeLimit && r.Mode != ModeMarket {
		return orderSpec{}, &ValidationError{Field: "mode", Reason: "must be limit or market"}
	}
	if !r.Amount.IsPositive() {
		return orderSpec{}, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	spec := orderSpec{user: user, side: r.Side, mode: r.Mode, amount: r.Amount}
	if r.Mode == ModeLimit {
		if !r.Price.Valid {
			return orderSpec{}, &ValidationError{Field: "price", Reason: "required for limit orders"}
		}
		if !r.Price.Decimal.IsPositive() {
			return orderSpec{}, &ValidationError{Field: "price", Reason: "must be positive"}
		}
		spec.price = r.Price.Decimal
	}
	return spec, nil
}
