package session

import (
	"encoding/json"
	"testing"

	"github.com/deltran/corridorsim/internal/corridor"
	"github.com/deltran/corridorsim/internal/simulation"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	reg, err := corridor.Load(nil)
	require.NoError(t, err)
	s, err := New(reg, opts)
	require.NoError(t, err)
	return s
}

func TestNew_Defaults(t *testing.T) {
	s := newTestSession(t, Options{})

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "sgd-gbp", s.Corridor().ID)
	assert.Equal(t, types.MethodSerial, s.Method())
	assert.Equal(t, types.ChargeBearerShared, s.ChargeBearer())
	assert.Equal(t, "50000", s.Amount().String())
	assert.Equal(t, -1, s.Player().Cursor())
	assert.Len(t, s.ActiveSteps(), 6)
}

func TestNew_Options(t *testing.T) {
	amount := decimal.NewFromInt(2500)
	s := newTestSession(t, Options{
		CorridorID:   "usd-inr",
		Method:       types.MethodCover,
		ChargeBearer: types.ChargeBearerSender,
		Amount:       &amount,
	})
	assert.Equal(t, "usd-inr", s.Corridor().ID)
	assert.Equal(t, types.MethodCover, s.Method())
	assert.Equal(t, types.ChargeBearerSender, s.ChargeBearer())
	assert.Equal(t, "2500", s.Amount().String())

	reg, err := corridor.Load(nil)
	require.NoError(t, err)

	_, err = New(reg, Options{CorridorID: "nope"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	zero := decimal.Zero
	_, err = New(reg, Options{Amount: &zero})
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	_, err = New(reg, Options{ChargeBearer: "ALL"})
	assert.ErrorIs(t, err, types.ErrInvalidSelection)

	_, err = New(nil, Options{})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestSelectMethod_ResetsPlayback(t *testing.T) {
	s := newTestSession(t, Options{})
	s.TogglePlay()
	s.Next()
	require.Equal(t, 1, s.Player().Cursor())

	require.NoError(t, s.SelectMethod(types.MethodCover))
	assert.Equal(t, -1, s.Player().Cursor())
	assert.False(t, s.Player().Playing())
	assert.Equal(t, 7, s.Player().Len())
	assert.Greater(t, s.Player().Len(), len(s.Corridor().SerialSteps))

	err := s.SelectMethod("instant")
	assert.ErrorIs(t, err, types.ErrInvalidSelection)
	assert.Equal(t, types.MethodCover, s.Method())
}

func TestSelectCorridor(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.SetAmount(decimal.NewFromInt(1234)))
	require.NoError(t, s.JumpTo(2))

	// Same corridor: reset playback, keep the amount
	require.NoError(t, s.SelectCorridor("sgd-gbp"))
	assert.Equal(t, -1, s.Player().Cursor())
	assert.Equal(t, "1234", s.Amount().String())

	// New corridor: amount returns to its default
	require.NoError(t, s.SelectCorridor("gbp-jpy"))
	assert.Equal(t, "25000", s.Amount().String())
	assert.Equal(t, "GBP", s.Corridor().SourceCurrency)

	require.NoError(t, s.JumpTo(1))
	err := s.SelectCorridor("xxx-yyy")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, "gbp-jpy", s.Corridor().ID)
	assert.Equal(t, 1, s.Player().Cursor(), "failed selection leaves playback alone")
}

func TestSetters_RejectWithoutMutation(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.JumpTo(3))
	before := s.State()

	assert.ErrorIs(t, s.SetAmount(decimal.Zero), types.ErrInvalidAmount)
	assert.ErrorIs(t, s.SetAmount(decimal.NewFromInt(-5)), types.ErrInvalidAmount)
	assert.ErrorIs(t, s.SetAmount(decimal.RequireFromString("100.001")), types.ErrInvalidAmount)
	assert.ErrorIs(t, s.SetAmount(decimal.RequireFromString("1e8000000")), types.ErrInvalidAmount)
	assert.ErrorIs(t, s.SetAmount(decimal.RequireFromString("1e-2000000")), types.ErrInvalidAmount)
	assert.ErrorIs(t, s.SetChargeBearer("XYZ"), types.ErrInvalidSelection)
	assert.ErrorIs(t, s.JumpTo(99), types.ErrInvalidSelection)

	assert.Equal(t, before, s.State())
}

func TestSetChargeBearer_KeepsPlayback(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.JumpTo(2))

	require.NoError(t, s.SetChargeBearer(types.ChargeBearerBeneficiary))
	assert.Equal(t, 2, s.Player().Cursor())

	result, err := s.Derived()
	require.NoError(t, err)
	assert.Equal(t, types.ChargeBearerBeneficiary, result.Summary.Policy)
	assert.Equal(t, "50000", result.Summary.SenderOutlay.String())
}

func TestDerived_Memoized(t *testing.T) {
	calls := 0
	s := newTestSession(t, Options{
		Simulate: func(c *types.Corridor, m types.SettlementMethod, a decimal.Decimal, b types.ChargeBearer) (*simulation.Result, error) {
			calls++
			return simulation.SimulateCorridor(c, m, a, b)
		},
	})

	first, err := s.Derived()
	require.NoError(t, err)
	second, err := s.Derived()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	// Playback does not invalidate the memo
	s.Next()
	_, err = s.Derived()
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	require.NoError(t, s.SetAmount(decimal.NewFromInt(100)))
	third, err := s.Derived()
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "100", third.Summary.Principal.String())
}

func TestView(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.JumpTo(1))

	v, err := s.View()
	require.NoError(t, err)

	assert.Equal(t, s.ID(), v.SessionID)
	assert.Equal(t, "sgd-gbp", v.Corridor.ID)
	assert.Len(t, v.Corridor.Banks, 4)
	assert.Equal(t, 1, v.Cursor)
	assert.False(t, v.IsComplete)
	require.Len(t, v.Steps, 6)

	assert.Equal(t, types.StepCompleted, v.Steps[0].Status)
	assert.Equal(t, types.StepActive, v.Steps[1].Status)
	assert.Equal(t, types.StepPending, v.Steps[2].Status)
	assert.Equal(t, "DBS Bank Ltd", v.Steps[0].FromBank)
	assert.Equal(t, "29025.13", v.Steps[1].AmountAfter.String())
	assert.Equal(t, "GBP", v.Summary.TargetCurrency)
	require.NotNil(t, v.Headline)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"active"`)
}

func TestStateRestore(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.SelectCorridor("aed-php"))
	require.NoError(t, s.SelectMethod(types.MethodCover))
	require.NoError(t, s.SetChargeBearer(types.ChargeBearerSender))
	require.NoError(t, s.SetAmount(decimal.RequireFromString("750.50")))
	require.NoError(t, s.JumpTo(4))

	data, err := json.Marshal(s.State())
	require.NoError(t, err)

	var st State
	require.NoError(t, json.Unmarshal(data, &st))

	other := newTestSession(t, Options{})
	require.NoError(t, other.Restore(st))
	restored := other.State()
	assert.Equal(t, s.ID(), restored.ID)
	assert.Equal(t, "aed-php", restored.CorridorID)
	assert.Equal(t, types.MethodCover, restored.Method)
	assert.Equal(t, types.ChargeBearerSender, restored.ChargeBearer)
	assert.True(t, restored.Amount.Equal(decimal.RequireFromString("750.50")))
	assert.Equal(t, 4, restored.Cursor)
	assert.False(t, restored.Playing)

	bad := st
	bad.Amount = decimal.Zero
	before := other.State()
	assert.ErrorIs(t, other.Restore(bad), types.ErrInvalidAmount)
	assert.Equal(t, before, other.State())

	bad = st
	bad.Amount = decimal.RequireFromString("1e8000000")
	assert.ErrorIs(t, other.Restore(bad), types.ErrInvalidAmount)
	assert.Equal(t, before, other.State())

	bad = st
	bad.Cursor = 999
	bad.Playing = true
	assert.ErrorIs(t, other.Restore(bad), types.ErrInvalidSelection)
	assert.Equal(t, before, other.State())

	// aed-php cover has 7 steps; autoplay cannot sit on the last one
	bad = st
	bad.Cursor = 6
	bad.Playing = true
	assert.ErrorIs(t, other.Restore(bad), types.ErrInvalidSelection)
	assert.Equal(t, before, other.State())

	bad = st
	bad.CorridorID = "missing"
	assert.ErrorIs(t, other.Restore(bad), types.ErrNotFound)
}

func TestNew_RejectsAmountOutsideCurrency(t *testing.T) {
	reg, err := corridor.Load(nil)
	require.NoError(t, err)

	for _, tc := range []struct {
		corridor string
		amount   string
	}{
		{"sgd-gbp", "0.001"},
		{"sgd-gbp", "13000000.01"},
		{"sgd-gbp", "1e8000000"},
		{"gbp-jpy", "1e-2000000"},
	} {
		amount := decimal.RequireFromString(tc.amount)
		_, err := New(reg, Options{CorridorID: tc.corridor, Amount: &amount})
		assert.ErrorIs(t, err, types.ErrInvalidAmount, "%s %s", tc.corridor, tc.amount)
	}
}
