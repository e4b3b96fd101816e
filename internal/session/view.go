package session

import (
	"github.com/deltran/corridorsim/internal/simulation"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/shopspring/decimal"
)

// CorridorHeader is the corridor data a view needs besides the steps
type CorridorHeader struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	SenderCountry   string       `json:"sender_country"`
	SenderFlag      string       `json:"sender_flag"`
	ReceiverCountry string       `json:"receiver_country"`
	ReceiverFlag    string       `json:"receiver_flag"`
	SourceCurrency  string       `json:"source_currency"`
	TargetCurrency  string       `json:"target_currency"`
	Banks           []types.Bank `json:"banks"`
}

// StepView is a derived step with its playback status and bank names resolved
type StepView struct {
	types.DerivedStep
	Index    int              `json:"index"`
	Status   types.StepStatus `json:"status"`
	FromBank string           `json:"from_bank"`
	ToBank   string           `json:"to_bank"`
}

// View is everything a presentation layer renders for a session
type View struct {
	SessionID    string                 `json:"session_id"`
	Corridor     CorridorHeader         `json:"corridor"`
	Method       types.SettlementMethod `json:"method"`
	ChargeBearer types.ChargeBearer     `json:"charge_bearer"`
	Amount       decimal.Decimal        `json:"amount"`
	Cursor       int                    `json:"cursor"`
	Playing      bool                   `json:"playing"`
	IsComplete   bool                   `json:"is_complete"`
	Steps        []StepView             `json:"steps"`
	Summary      simulation.Summary     `json:"summary"`
	Headline     *simulation.Headline   `json:"headline,omitempty"`
}

// View assembles the current view
func (s *Session) View() (*View, error) {
	result, err := s.Derived()
	if err != nil {
		return nil, err
	}

	c := s.corridor
	v := &View{
		SessionID: s.id,
		Corridor: CorridorHeader{
			ID:              c.ID,
			Name:            c.Name,
			SenderCountry:   c.SenderCountry,
			SenderFlag:      c.SenderFlag,
			ReceiverCountry: c.ReceiverCountry,
			ReceiverFlag:    c.ReceiverFlag,
			SourceCurrency:  c.SourceCurrency,
			TargetCurrency:  c.TargetCurrency,
			Banks:           c.Banks,
		},
		Method:       s.method,
		ChargeBearer: s.bearer,
		Amount:       s.amount,
		Cursor:       s.player.Cursor(),
		Playing:      s.player.Playing(),
		IsComplete:   s.player.IsComplete(),
		Steps:        make([]StepView, 0, len(result.Steps)),
		Summary:      result.Summary,
		Headline:     result.Headline,
	}

	for i, d := range result.Steps {
		sv := StepView{
			DerivedStep: d,
			Index:       i,
			Status:      s.player.StatusOf(i),
		}
		if b, err := c.Bank(d.Step.From); err == nil {
			sv.FromBank = b.Name
		}
		if b, err := c.Bank(d.Step.To); err == nil {
			sv.ToBank = b.Name
		}
		v.Steps = append(v.Steps, sv)
	}

	return v, nil
}
