package simulation

import (
	"github.com/deltran/corridorsim/internal/types"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FeeTotal is the sum of fees charged in one currency
type FeeTotal struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// Summary is the charge-bearer dependent aggregate view of a simulation
type Summary struct {
	Policy          types.ChargeBearer `json:"policy"`
	Principal       decimal.Decimal    `json:"principal"`
	SourceCurrency  string             `json:"source_currency"`
	TargetCurrency  string             `json:"target_currency"`
	TotalFees       []FeeTotal         `json:"total_fees"`
	TotalFeesSource decimal.Decimal    `json:"total_fees_source"`
	TotalFeesTarget decimal.Decimal    `json:"total_fees_target"`
	SenderOutlay    decimal.Decimal    `json:"sender_outlay"`
	Received        decimal.Decimal    `json:"received"`
	EffectiveRate   decimal.Decimal    `json:"effective_rate"`
	CostPct         decimal.Decimal    `json:"cost_pct"`
}

// HasFees reports whether any forward step charged a non-zero fee
func (s Summary) HasFees() bool {
	for _, f := range s.TotalFees {
		if !f.Amount.IsZero() {
			return true
		}
	}
	return false
}

// CompareBearers simulates steps once per charge bearer, in display order
func CompareBearers(steps []types.Step, principal decimal.Decimal, sourceCurrency string) ([]Summary, error) {
	out := make([]Summary, 0, len(types.ChargeBearers))
	for _, policy := range types.ChargeBearers {
		result, err := Simulate(steps, principal, sourceCurrency, policy)
		if err != nil {
			return nil, err
		}
		out = append(out, result.Summary)
	}
	return out, nil
}

// feeLine is one forward fee with the FX factors around it
type feeLine struct {
	fee      decimal.Decimal
	currency string
	// product of rates applied before the fee was charged
	before decimal.Decimal
	// product of rates applied from the fee's step to the end
	after decimal.Decimal
}

func collectFees(steps []types.Step, sourceCurrency string) ([]feeLine, decimal.Decimal) {
	var lines []feeLine
	currency := sourceCurrency
	product := decimal.NewFromInt(1)

	for _, s := range steps {
		if !s.IsForward() {
			continue
		}
		if s.HasFee() {
			lines = append(lines, feeLine{fee: *s.Fee, currency: currency, before: product})
		}
		if s.HasFX() {
			product = product.Mul(*s.FXRate)
			currency = s.FXTo
		}
	}

	for i := range lines {
		lines[i].after = product.Div(lines[i].before)
	}
	return lines, product
}

func summarize(steps []types.Step, derived []types.DerivedStep, principal decimal.Decimal, sourceCurrency string, policy types.ChargeBearer) Summary {
	targetCurrency := sourceCurrency
	final := principal
	if len(derived) > 0 {
		last := derived[len(derived)-1]
		targetCurrency = last.RunningCurrency
		final = last.AmountAfter
	}

	lines, product := collectFees(steps, sourceCurrency)

	summary := Summary{
		Policy:          policy,
		Principal:       principal,
		SourceCurrency:  sourceCurrency,
		TargetCurrency:  targetCurrency,
		TotalFees:       []FeeTotal{},
		TotalFeesSource: decimal.Zero,
		TotalFeesTarget: decimal.Zero,
	}

	firstFee := decimal.Zero
	foundFirst := false
	for _, l := range lines {
		summary.addFee(l.currency, l.fee)
		summary.TotalFeesSource = summary.TotalFeesSource.Add(l.fee.Div(l.before))
		summary.TotalFeesTarget = summary.TotalFeesTarget.Add(l.fee.Mul(l.after))
		if !foundFirst && l.fee.IsPositive() {
			firstFee = l.fee.Div(l.before)
			foundFirst = true
		}
	}
	summary.TotalFeesSource = types.RoundToCurrency(summary.TotalFeesSource, sourceCurrency)
	summary.TotalFeesTarget = types.RoundToCurrency(summary.TotalFeesTarget, targetCurrency)
	firstFee = types.RoundToCurrency(firstFee, sourceCurrency)

	switch policy {
	case types.ChargeBearerShared:
		// Fees were already deducted hop by hop; the sender also bears the first one
		summary.SenderOutlay = principal.Add(firstFee)
		summary.Received = final
	case types.ChargeBearerSender:
		summary.SenderOutlay = principal.Add(summary.TotalFeesSource)
		summary.Received = noFeeFinal(steps, principal, sourceCurrency)
	case types.ChargeBearerBeneficiary:
		summary.SenderOutlay = principal
		summary.Received = noFeeFinal(steps, principal, sourceCurrency).Sub(summary.TotalFeesTarget)
	}

	summary.EffectiveRate = summary.Received.Div(principal).Round(6)
	ideal := principal.Mul(product)
	if ideal.IsPositive() {
		summary.CostPct = decimal.NewFromInt(1).Sub(summary.Received.Div(ideal)).Mul(hundred).Round(4)
	}

	return summary
}

func (s *Summary) addFee(currency string, fee decimal.Decimal) {
	for i := range s.TotalFees {
		if s.TotalFees[i].Currency == currency {
			s.TotalFees[i].Amount = s.TotalFees[i].Amount.Add(fee)
			return
		}
	}
	s.TotalFees = append(s.TotalFees, FeeTotal{Currency: currency, Amount: fee})
}

func noFeeFinal(steps []types.Step, principal decimal.Decimal, sourceCurrency string) decimal.Decimal {
	derived := run(steps, principal, sourceCurrency, false)
	if len(derived) == 0 {
		return principal
	}
	return derived[len(derived)-1].AmountAfter
}
