// Package session holds the mutable selection and playback state of one user
// walking through a corridor.
package session

import (
	"github.com/deltran/corridorsim/internal/corridor"
	"github.com/deltran/corridorsim/internal/playback"
	"github.com/deltran/corridorsim/internal/simulation"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/deltran/corridorsim/internal/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulateFunc produces the simulation for a selection. The default is
// simulation.SimulateCorridor; callers may pass a cached variant.
type SimulateFunc func(c *types.Corridor, method types.SettlementMethod, amount decimal.Decimal, bearer types.ChargeBearer) (*simulation.Result, error)

// Options configures a new session. Zero values select the first corridor,
// its default amount, serial settlement and shared charges.
type Options struct {
	CorridorID   string
	Method       types.SettlementMethod
	ChargeBearer types.ChargeBearer
	Amount       *decimal.Decimal
	Simulate     SimulateFunc
	Logger       *zap.Logger
}

// State is the serializable form of a session
type State struct {
	ID           string                 `json:"id"`
	CorridorID   string                 `json:"corridor_id"`
	Method       types.SettlementMethod `json:"method"`
	ChargeBearer types.ChargeBearer     `json:"charge_bearer"`
	Amount       decimal.Decimal        `json:"amount"`
	Cursor       int                    `json:"cursor"`
	Playing      bool                   `json:"playing"`
}

// Session is not safe for concurrent use. Serve it from a playback.Driver
// when transitions can come from more than one goroutine.
type Session struct {
	id       string
	registry *corridor.Registry
	simulate SimulateFunc
	logger   *zap.Logger

	corridor *types.Corridor
	method   types.SettlementMethod
	bearer   types.ChargeBearer
	amount   decimal.Decimal
	player   *playback.Player

	memoKey    memoKey
	memoResult *simulation.Result
}

type memoKey struct {
	corridorID string
	method     types.SettlementMethod
	bearer     types.ChargeBearer
	amount     string
}

// New creates a session
func New(registry *corridor.Registry, opts Options) (*Session, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, types.NewError(types.ErrorCodeConfiguration, "no corridors available", "")
	}

	s := &Session{
		id:       uuid.New().String(),
		registry: registry,
		simulate: opts.Simulate,
		logger:   opts.Logger,
		method:   types.MethodSerial,
		bearer:   types.ChargeBearerShared,
	}
	if s.simulate == nil {
		s.simulate = simulation.SimulateCorridor
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	s.corridor = registry.First()
	if opts.CorridorID != "" {
		c, err := registry.Get(opts.CorridorID)
		if err != nil {
			return nil, err
		}
		s.corridor = c
	}
	s.amount = s.corridor.DefaultAmount

	if opts.Method != "" {
		if _, err := s.corridor.Steps(opts.Method); err != nil {
			return nil, err
		}
		s.method = opts.Method
	}
	if opts.ChargeBearer != "" {
		if !opts.ChargeBearer.Valid() {
			return nil, types.NewError(types.ErrorCodeInvalidSelection, "unknown charge bearer", string(opts.ChargeBearer))
		}
		s.bearer = opts.ChargeBearer
	}
	if opts.Amount != nil {
		if err := validation.ValidateAmount(*opts.Amount, s.corridor.SourceCurrency); err != nil {
			return nil, err
		}
		s.amount = *opts.Amount
	}

	s.player = playback.NewPlayer(s.stepCount)
	return s, nil
}

// stepCount resolves the active sequence length from the current selection
func (s *Session) stepCount() int {
	steps, err := s.corridor.Steps(s.method)
	if err != nil {
		return 0
	}
	return len(steps)
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Player exposes the cursor state machine, for driving it from a playback.Driver
func (s *Session) Player() *playback.Player { return s.player }

// Corridor returns the selected corridor
func (s *Session) Corridor() *types.Corridor { return s.corridor }

// Method returns the selected settlement method
func (s *Session) Method() types.SettlementMethod { return s.method }

// ChargeBearer returns the selected charge bearer
func (s *Session) ChargeBearer() types.ChargeBearer { return s.bearer }

// Amount returns the principal
func (s *Session) Amount() decimal.Decimal { return s.amount }

// ActiveSteps returns the step sequence for the selected method
func (s *Session) ActiveSteps() []types.Step {
	steps, _ := s.corridor.Steps(s.method)
	return steps
}

// SelectCorridor switches corridor. Playback is reset, and the amount returns
// to the corridor default when the corridor actually changes.
func (s *Session) SelectCorridor(id string) error {
	c, err := s.registry.Get(id)
	if err != nil {
		return err
	}

	if c.ID != s.corridor.ID {
		s.amount = c.DefaultAmount
	}
	s.corridor = c
	s.player.Reset()

	s.logger.Debug("Corridor selected",
		zap.String("session_id", s.id),
		zap.String("corridor", c.ID),
		zap.String("amount", s.amount.String()),
	)
	return nil
}

// SelectMethod switches settlement method and resets playback
func (s *Session) SelectMethod(method types.SettlementMethod) error {
	if _, err := s.corridor.Steps(method); err != nil {
		return err
	}
	s.method = method
	s.player.Reset()

	s.logger.Debug("Settlement method selected",
		zap.String("session_id", s.id),
		zap.String("method", string(method)),
		zap.Int("steps", s.stepCount()),
	)
	return nil
}

// SetChargeBearer changes the charge bearer. Playback is unaffected.
func (s *Session) SetChargeBearer(bearer types.ChargeBearer) error {
	if !bearer.Valid() {
		return types.NewError(types.ErrorCodeInvalidSelection, "unknown charge bearer", string(bearer))
	}
	s.bearer = bearer
	return nil
}

// SetAmount changes the principal. Playback is unaffected.
func (s *Session) SetAmount(amount decimal.Decimal) error {
	if err := validation.ValidateAmount(amount, s.corridor.SourceCurrency); err != nil {
		return err
	}
	s.amount = amount
	return nil
}

// Next advances playback one step
func (s *Session) Next() { s.player.Next() }

// Prev moves playback back one step
func (s *Session) Prev() { s.player.Prev() }

// Reset returns playback to the not-started state
func (s *Session) Reset() { s.player.Reset() }

// TogglePlay starts or pauses autoplay
func (s *Session) TogglePlay() { s.player.TogglePlay() }

// JumpTo moves playback to step index i
func (s *Session) JumpTo(i int) error { return s.player.JumpTo(i) }

// Derived returns the simulation for the current selection. The result is
// memoized until the selection changes; callers must not modify it.
func (s *Session) Derived() (*simulation.Result, error) {
	key := memoKey{
		corridorID: s.corridor.ID,
		method:     s.method,
		bearer:     s.bearer,
		amount:     s.amount.String(),
	}
	if s.memoResult != nil && s.memoKey == key {
		return s.memoResult, nil
	}

	result, err := s.simulate(s.corridor, s.method, s.amount, s.bearer)
	if err != nil {
		return nil, err
	}
	s.memoKey = key
	s.memoResult = result
	return result, nil
}

// State returns the serializable session state
func (s *Session) State() State {
	return State{
		ID:           s.id,
		CorridorID:   s.corridor.ID,
		Method:       s.method,
		ChargeBearer: s.bearer,
		Amount:       s.amount,
		Cursor:       s.player.Cursor(),
		Playing:      s.player.Playing(),
	}
}

// Restore replaces the session state. Every field is checked before any is
// applied, so a rejected state leaves the session unchanged.
func (s *Session) Restore(st State) error {
	c, err := s.registry.Get(st.CorridorID)
	if err != nil {
		return err
	}
	steps, err := c.Steps(st.Method)
	if err != nil {
		return err
	}
	if !st.ChargeBearer.Valid() {
		return types.NewError(types.ErrorCodeInvalidSelection, "unknown charge bearer", string(st.ChargeBearer))
	}
	if err := validation.ValidateAmount(st.Amount, c.SourceCurrency); err != nil {
		return err
	}
	if err := playback.CheckState(len(steps), st.Cursor, st.Playing); err != nil {
		return err
	}

	if st.ID != "" {
		s.id = st.ID
	}
	s.corridor = c
	s.method = st.Method
	s.bearer = st.ChargeBearer
	s.amount = st.Amount
	return s.player.Restore(st.Cursor, st.Playing)
}
