// Package simulation computes the monetary flow of a payment through a
// corridor's step sequence.
//
// The per-step loop is the same for every charge bearer; the bearer only
// changes the aggregate Summary.
package simulation

import (
	"github.com/deltran/corridorsim/internal/types"
	"github.com/deltran/corridorsim/internal/validation"
	"github.com/shopspring/decimal"
)

// Result is the full output of one simulation
type Result struct {
	CorridorID string                 `json:"corridor_id,omitempty"`
	Method     types.SettlementMethod `json:"method,omitempty"`
	Steps      []types.DerivedStep    `json:"steps"`
	Summary    Summary                `json:"summary"`
	Headline   *Headline              `json:"headline,omitempty"`
}

// Headline carries the corridor's authored summary figures. They are reported
// next to the computed Summary and never derived from it.
type Headline struct {
	FXRate         decimal.Decimal `json:"fx_rate"`
	FXSpread       decimal.Decimal `json:"fx_spread"`
	TotalCostPct   decimal.Decimal `json:"total_cost_pct"`
	SettlementTime string          `json:"settlement_time"`
}

// Simulate runs principal through steps and applies the charge bearer policy
// to the totals.
func Simulate(steps []types.Step, principal decimal.Decimal, sourceCurrency string, policy types.ChargeBearer) (*Result, error) {
	if err := validation.ValidateAmount(principal, sourceCurrency); err != nil {
		return nil, err
	}
	if !policy.Valid() {
		return nil, types.NewError(types.ErrorCodeInvalidSelection, "unknown charge bearer", string(policy))
	}

	derived := run(steps, principal, sourceCurrency, true)
	summary := summarize(steps, derived, principal, sourceCurrency, policy)

	return &Result{
		Steps:   derived,
		Summary: summary,
	}, nil
}

// SimulateCorridor simulates one of a corridor's sequences and attaches the
// corridor's headline figures
func SimulateCorridor(c *types.Corridor, method types.SettlementMethod, principal decimal.Decimal, policy types.ChargeBearer) (*Result, error) {
	steps, err := c.Steps(method)
	if err != nil {
		return nil, err
	}

	result, err := Simulate(steps, principal, c.SourceCurrency, policy)
	if err != nil {
		return nil, err
	}

	result.CorridorID = c.ID
	result.Method = method
	result.Headline = &Headline{
		FXRate:         c.FXRate,
		FXSpread:       c.FXSpread,
		TotalCostPct:   c.TotalCostPct,
		SettlementTime: c.SettlementTime,
	}
	return result, nil
}

// run is the policy-independent per-step loop. With applyFees false the
// fees are skipped and FX still applies.
func run(steps []types.Step, principal decimal.Decimal, sourceCurrency string, applyFees bool) []types.DerivedStep {
	amount := principal
	currency := sourceCurrency
	derived := make([]types.DerivedStep, 0, len(steps))

	for _, s := range steps {
		d := types.DerivedStep{
			Step:           s.Clone(),
			AmountBefore:   amount,
			CurrencyBefore: currency,
			FeeApplied:     decimal.Zero,
		}

		if s.IsForward() {
			if s.HasFee() && applyFees {
				d.FeeApplied = *s.Fee
				amount = amount.Sub(*s.Fee)
			}
			if s.HasFX() {
				currency = s.FXTo
				amount = types.RoundToCurrency(amount.Mul(*s.FXRate), currency)
				d.FXApplied = true
			}
		}

		d.AmountAfter = amount
		d.RunningCurrency = currency
		derived = append(derived, d)
	}

	return derived
}

// FinalAmount returns the amount and currency after the last step
func (r *Result) FinalAmount() (decimal.Decimal, string) {
	if len(r.Steps) == 0 {
		return r.Summary.Principal, r.Summary.SourceCurrency
	}
	last := r.Steps[len(r.Steps)-1]
	return last.AmountAfter, last.RunningCurrency
}

// Step returns the derived step with the given id
func (r *Result) Step(id int) (types.DerivedStep, bool) {
	for _, d := range r.Steps {
		if d.Step.ID == id {
			return d, true
		}
	}
	return types.DerivedStep{}, false
}
