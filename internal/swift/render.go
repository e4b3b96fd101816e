package swift

import (
	"fmt"
	"time"

	"github.com/deltran/corridorsim/internal/iso20022"
	"github.com/deltran/corridorsim/internal/types"
)

// Rendered is the MT equivalent of one forward transfer step
type Rendered struct {
	StepID int         `json:"step_id"`
	Type   MessageType `json:"type"`
	Cover  bool        `json:"cover"`
	Text   string      `json:"text"`
}

// Name returns the conventional message name, e.g. "MT202 COV"
func (r Rendered) Name() string {
	if r.Cover {
		return "MT" + string(r.Type) + " COV"
	}
	return "MT" + string(r.Type)
}

// RenderStep renders a derived forward step as MT103 (pacs.008) or MT202 COV
// (pacs.009). Parties and references come from the step's ISO 20022 template;
// :32A: carries the simulated settlement amount, :71A: the charge bearer.
func (g *Generator) RenderStep(c *types.Corridor, d types.DerivedStep, bearer types.ChargeBearer) (*Rendered, error) {
	step := d.Step
	if !step.IsForward() || !iso20022.IsTransfer(step.MessageType) {
		return nil, fmt.Errorf("%w: step %d (%s %s)", ErrNotRenderable, step.ID, step.Direction, step.MessageType)
	}

	from, err := c.Bank(step.From)
	if err != nil {
		return nil, err
	}
	to, err := c.Bank(step.To)
	if err != nil {
		return nil, err
	}

	tx, err := iso20022.ParseTransfer(step.MessageTemplate)
	if err != nil {
		return nil, fmt.Errorf("step %d template: %w", step.ID, err)
	}
	valueDate, err := time.Parse("2006-01-02", tx.SettlementDate)
	if err != nil {
		return nil, fmt.Errorf("step %d settlement date %q: %w", step.ID, tx.SettlementDate, err)
	}

	out := &Rendered{StepID: step.ID}
	switch step.MessageType {
	case iso20022.MessageTypePacs008:
		b := NewMT103Builder().
			SetRoute(from.BIC, to.BIC).
			SetReference(reference(tx.MsgID), tx.UETR).
			SetValueDateCurrencyAmount(valueDate, d.RunningCurrency, d.AmountAfter).
			SetOrderingCustomer(tx.DebtorName).
			SetOrderingInstitution(tx.DebtorAgentBIC).
			SetBeneficiary(tx.CreditorAccount, tx.CreditorName).
			SetRemittanceInfo(tx.Remittance).
			SetCharges(string(bearer))
		if tx.CreditorAgent != "" && tx.CreditorAgent != to.BIC {
			b.SetAccountWithInstitution(tx.CreditorAgent)
		}
		if d.FXApplied || d.FeeApplied.IsPositive() {
			b.SetInstructedAmount(d.CurrencyBefore, d.AmountBefore)
		}
		if d.FXApplied {
			b.SetExchangeRate(*step.FXRate)
		}
		if d.FeeApplied.IsPositive() {
			if bearer == types.ChargeBearerSender {
				b.SetReceiversCharge(d.CurrencyBefore, d.FeeApplied)
			} else {
				b.AddSendersCharge(d.CurrencyBefore, d.FeeApplied)
			}
		}

		msg, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step.ID, err)
		}
		out.Type = MT103
		out.Text, err = g.GenerateMT103(msg, step.ID)
		if err != nil {
			return nil, err
		}

	case iso20022.MessageTypePacs009:
		b := NewMT202Builder().
			SetRoute(from.BIC, to.BIC).
			SetReference(reference(tx.MsgID), reference(tx.EndToEndID), tx.UETR).
			SetValueDateCurrencyAmount(valueDate, d.RunningCurrency, d.AmountAfter).
			SetOrderingInstitution(tx.DebtorAgentBIC).
			SetBeneficiaryInstitution(tx.CreditorAgent).
			SetUnderlyingCustomer(tx.DebtorName, tx.CreditorAccount, tx.CreditorName, tx.Remittance)
		if tx.InstructedBIC != "" && tx.InstructedBIC != to.BIC {
			b.SetAccountWithInstitution(tx.InstructedBIC)
		}

		msg, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step.ID, err)
		}
		out.Type = MT202
		out.Cover = true
		out.Text, err = g.GenerateMT202(msg, step.ID)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// RenderAll renders every forward transfer step, skipping the rest
func (g *Generator) RenderAll(c *types.Corridor, steps []types.DerivedStep, bearer types.ChargeBearer) ([]Rendered, error) {
	var out []Rendered
	for _, d := range steps {
		if !d.Step.IsForward() || !iso20022.IsTransfer(d.Step.MessageType) {
			continue
		}
		r, err := g.RenderStep(c, d, bearer)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// reference trims an ISO 20022 identifier to the 16 characters :20: and :21: allow
func reference(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
