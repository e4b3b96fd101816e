package iso20022

import (
	"github.com/deltran/corridorsim/internal/types"
	"github.com/shopspring/decimal"
)

// ReconciliationLine compares one forward template with the simulated amount
type ReconciliationLine struct {
	StepID       int             `json:"step_id"`
	MessageType  string          `json:"message_type"`
	Authored     decimal.Decimal `json:"authored"`
	AuthoredCcy  string          `json:"authored_ccy"`
	Simulated    decimal.Decimal `json:"simulated"`
	SimulatedCcy string          `json:"simulated_ccy"`
	Match        bool            `json:"match"`
	Error        string          `json:"error,omitempty"`
}

// ReconciliationReport is the outcome of Reconcile for one step sequence
type ReconciliationReport struct {
	CorridorID string                 `json:"corridor_id"`
	Method     types.SettlementMethod `json:"method"`
	Lines      []ReconciliationLine   `json:"lines"`
	Matched    bool                   `json:"matched"`
}

// Mismatches returns the lines that did not reconcile
func (r *ReconciliationReport) Mismatches() []ReconciliationLine {
	var out []ReconciliationLine
	for _, l := range r.Lines {
		if !l.Match {
			out = append(out, l)
		}
	}
	return out
}

// Reconcile checks every forward transfer template against the derived
// amount after that step. Derived steps must come from a simulation at the
// corridor's default amount, which is the amount the templates are written for.
func Reconcile(corridorID string, method types.SettlementMethod, derived []types.DerivedStep) *ReconciliationReport {
	report := &ReconciliationReport{
		CorridorID: corridorID,
		Method:     method,
		Matched:    true,
	}

	for _, d := range derived {
		if !d.Step.IsForward() || !IsTransfer(d.Step.MessageType) {
			continue
		}

		line := ReconciliationLine{
			StepID:       d.Step.ID,
			MessageType:  d.Step.MessageType,
			Simulated:    d.AmountAfter,
			SimulatedCcy: d.RunningCurrency,
		}

		amount, ccy, err := SettlementAmount(d.Step.MessageTemplate)
		if err != nil {
			line.Error = err.Error()
		} else {
			line.Authored = amount
			line.AuthoredCcy = ccy
			line.Match = ccy == d.RunningCurrency && amount.Equal(d.AmountAfter)
		}

		if !line.Match {
			report.Matched = false
		}
		report.Lines = append(report.Lines, line)
	}

	return report
}
