package simulation

import (
	"encoding/json"
	"testing"

	"github.com/deltran/corridorsim/internal/corridor"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadRegistry(t *testing.T) *corridor.Registry {
	t.Helper()
	reg, err := corridor.Load(nil)
	require.NoError(t, err)
	return reg
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func TestSimulate_SingaporeToUKSerial(t *testing.T) {
	reg := loadRegistry(t)
	c, err := reg.Get("sgd-gbp")
	require.NoError(t, err)

	result, err := SimulateCorridor(c, types.MethodSerial, d("50000"), types.ChargeBearerShared)
	require.NoError(t, err)
	require.Len(t, result.Steps, 6)

	tests := []struct {
		before, after string
		currency      string
		fee           string
		fx            bool
	}{
		{"50000", "49965", "SGD", "35", false},
		{"49965", "29025.13", "GBP", "25", true},
		{"29025.13", "29010.13", "GBP", "15", false},
		{"29010.13", "29010.13", "GBP", "0", false},
		{"29010.13", "29010.13", "GBP", "0", false},
		{"29010.13", "29010.13", "GBP", "0", false},
	}

	for i, tt := range tests {
		step := result.Steps[i]
		assert.Equal(t, i+1, step.Step.ID)
		assertAmount(t, tt.before, step.AmountBefore, "step %d before", i+1)
		assertAmount(t, tt.after, step.AmountAfter, "step %d after", i+1)
		assertAmount(t, tt.fee, step.FeeApplied, "step %d fee", i+1)
		assert.Equal(t, tt.currency, step.RunningCurrency, "step %d currency", i+1)
		assert.Equal(t, tt.fx, step.FXApplied, "step %d fx", i+1)
	}

	assert.Equal(t, "sgd-gbp", result.CorridorID)
	require.NotNil(t, result.Headline)
	assertAmount(t, "0.62", result.Headline.TotalCostPct)
	assertAmount(t, "0.5812", result.Headline.FXRate)
}

func TestSimulate_ZeroDecimalTarget(t *testing.T) {
	reg := loadRegistry(t)
	c, err := reg.Get("gbp-jpy")
	require.NoError(t, err)

	result, err := SimulateCorridor(c, types.MethodSerial, c.DefaultAmount, types.ChargeBearerShared)
	require.NoError(t, err)

	// 24970 * 191.45 = 4780506.5, rounded half away from zero
	assertAmount(t, "4780507", result.Steps[1].AmountAfter)
	assertAmount(t, "4778007", result.Steps[2].AmountAfter)
	assert.Equal(t, "JPY", result.Summary.TargetCurrency)
	assertAmount(t, "4778007", result.Summary.Received)
	assert.Equal(t, "4778007", types.FormatAmount(result.Summary.Received, "JPY"))
}

func TestSimulate_Idempotent(t *testing.T) {
	reg := loadRegistry(t)

	for _, c := range reg.List() {
		for _, method := range []types.SettlementMethod{types.MethodSerial, types.MethodCover} {
			for _, policy := range types.ChargeBearers {
				first, err := SimulateCorridor(c, method, c.DefaultAmount, policy)
				require.NoError(t, err)
				second, err := SimulateCorridor(c, method, c.DefaultAmount, policy)
				require.NoError(t, err)

				a, err := json.Marshal(first)
				require.NoError(t, err)
				b, err := json.Marshal(second)
				require.NoError(t, err)
				assert.Equal(t, string(a), string(b), "%s/%s/%s", c.ID, method, policy)
				assert.Equal(t, first, second)
			}
		}
	}
}

func TestSimulate_BackwardStepsCarryAmount(t *testing.T) {
	reg := loadRegistry(t)

	for _, c := range reg.List() {
		for _, method := range []types.SettlementMethod{types.MethodSerial, types.MethodCover} {
			result, err := SimulateCorridor(c, method, c.DefaultAmount, types.ChargeBearerShared)
			require.NoError(t, err)

			prev := c.DefaultAmount
			for _, step := range result.Steps {
				assert.True(t, prev.Equal(step.AmountBefore), "%s/%s step %d", c.ID, method, step.Step.ID)
				if !step.Step.IsForward() {
					assert.True(t, step.AmountBefore.Equal(step.AmountAfter))
					assert.True(t, step.FeeApplied.IsZero())
					assert.False(t, step.FXApplied)
				}
				prev = step.AmountAfter
			}
		}
	}
}

func TestSimulate_Conservation(t *testing.T) {
	steps := []types.Step{
		{ID: 1, From: 0, To: 1, Direction: types.DirectionForward, MessageType: "pacs.008"},
		{ID: 2, From: 1, To: 2, Direction: types.DirectionForward, MessageType: "pacs.008"},
		{ID: 3, From: 2, To: 3, Direction: types.DirectionForward, MessageType: "pacs.008"},
		{ID: 4, From: 3, To: 0, Direction: types.DirectionBackward, MessageType: "pacs.002"},
	}

	result, err := Simulate(steps, d("1234.56"), "USD", types.ChargeBearerShared)
	require.NoError(t, err)

	for _, step := range result.Steps {
		assertAmount(t, "1234.56", step.AmountBefore)
		assertAmount(t, "1234.56", step.AmountAfter)
		assert.Equal(t, "USD", step.RunningCurrency)
	}
}

func TestSimulate_DoesNotMutateSource(t *testing.T) {
	fee := d("10")
	steps := []types.Step{
		{ID: 1, Direction: types.DirectionForward, Fee: &fee},
	}

	result, err := Simulate(steps, d("100"), "USD", types.ChargeBearerShared)
	require.NoError(t, err)

	result.Steps[0].Step.ID = 99
	assert.Equal(t, 1, steps[0].ID)
	assertAmount(t, "10", *steps[0].Fee)

	*result.Steps[0].Step.Fee = d("99")
	assertAmount(t, "10", *steps[0].Fee)
	assert.NotSame(t, steps[0].Fee, result.Steps[0].Step.Fee)
}

func TestSimulate_DerivedStepsShareNoPointers(t *testing.T) {
	reg := loadRegistry(t)
	c, err := reg.Get("sgd-gbp")
	require.NoError(t, err)

	result, err := SimulateCorridor(c, types.MethodSerial, c.DefaultAmount, types.ChargeBearerShared)
	require.NoError(t, err)

	for i, ds := range result.Steps {
		src := c.SerialSteps[i]
		if src.Fee != nil {
			assert.NotSame(t, src.Fee, ds.Step.Fee, "step %d fee", src.ID)
			assert.True(t, src.Fee.Equal(*ds.Step.Fee))
		}
		if src.FXRate != nil {
			assert.NotSame(t, src.FXRate, ds.Step.FXRate, "step %d fx rate", src.ID)
			assert.True(t, src.FXRate.Equal(*ds.Step.FXRate))
		}
	}
}

func TestSimulate_InvalidInput(t *testing.T) {
	reg := loadRegistry(t)
	steps, err := reg.Steps("usd-inr", types.MethodSerial)
	require.NoError(t, err)

	for _, amount := range []string{"0", "-100", "-0.01", "0.001", "10000000.01", "1e8000000", "1e-2000000"} {
		_, err := Simulate(steps, d(amount), "USD", types.ChargeBearerShared)
		assert.ErrorIs(t, err, types.ErrInvalidAmount, amount)
	}

	_, err = Simulate(steps, d("100"), "USD", types.ChargeBearer("XYZ"))
	assert.ErrorIs(t, err, types.ErrInvalidSelection)

	c, err := reg.Get("usd-inr")
	require.NoError(t, err)
	_, err = SimulateCorridor(c, types.SettlementMethod("express"), d("100"), types.ChargeBearerShared)
	assert.ErrorIs(t, err, types.ErrInvalidSelection)
}

func TestCharges_SingaporeToUK(t *testing.T) {
	reg := loadRegistry(t)
	steps, err := reg.Steps("sgd-gbp", types.MethodSerial)
	require.NoError(t, err)

	summaries, err := CompareBearers(steps, d("50000"), "SGD")
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	sha, our, ben := summaries[0], summaries[1], summaries[2]
	assert.Equal(t, types.ChargeBearerShared, sha.Policy)
	assert.Equal(t, types.ChargeBearerSender, our.Policy)
	assert.Equal(t, types.ChargeBearerBeneficiary, ben.Policy)

	require.Len(t, sha.TotalFees, 2)
	assert.Equal(t, "SGD", sha.TotalFees[0].Currency)
	assertAmount(t, "60", sha.TotalFees[0].Amount)
	assert.Equal(t, "GBP", sha.TotalFees[1].Currency)
	assertAmount(t, "15", sha.TotalFees[1].Amount)

	// 35 + 25 + 15 / 0.5812
	assertAmount(t, "85.81", sha.TotalFeesSource)
	// (35 + 25) * 0.5812 + 15
	assertAmount(t, "49.87", sha.TotalFeesTarget)

	assertAmount(t, "50035", sha.SenderOutlay)
	assertAmount(t, "29010.13", sha.Received)

	assertAmount(t, "50085.81", our.SenderOutlay)
	assertAmount(t, "29060", our.Received)

	assertAmount(t, "50000", ben.SenderOutlay)
	assertAmount(t, "29010.13", ben.Received)

	assertAmount(t, "0.580203", sha.EffectiveRate)
	assertAmount(t, "0.1716", sha.CostPct)
	assertAmount(t, "0", our.CostPct)
}

func TestCharges_Divergence(t *testing.T) {
	reg := loadRegistry(t)

	for _, c := range reg.List() {
		for _, method := range []types.SettlementMethod{types.MethodSerial, types.MethodCover} {
			steps, err := c.Steps(method)
			require.NoError(t, err)

			summaries, err := CompareBearers(steps, c.DefaultAmount, c.SourceCurrency)
			require.NoError(t, err)
			require.True(t, summaries[0].HasFees())

			pairs := make(map[string]types.ChargeBearer)
			for _, s := range summaries {
				key := s.SenderOutlay.String() + "/" + s.Received.String()
				if other, ok := pairs[key]; ok {
					t.Errorf("%s/%s: %s and %s yield the same pair %s", c.ID, method, other, s.Policy, key)
				}
				pairs[key] = s.Policy
			}
		}
	}
}

func TestCharges_NoFeesConverge(t *testing.T) {
	reg := loadRegistry(t)
	c, err := reg.Get("aed-php")
	require.NoError(t, err)

	// Same topology and FX, fees stripped
	steps := make([]types.Step, len(c.SerialSteps))
	copy(steps, c.SerialSteps)
	for i := range steps {
		steps[i].Fee = nil
	}

	summaries, err := CompareBearers(steps, c.DefaultAmount, c.SourceCurrency)
	require.NoError(t, err)
	assert.False(t, summaries[0].HasFees())

	for _, s := range summaries[1:] {
		assert.True(t, summaries[0].SenderOutlay.Equal(s.SenderOutlay), "%s outlay", s.Policy)
		assert.True(t, summaries[0].Received.Equal(s.Received), "%s received", s.Policy)
	}
}

func TestSimulate_MultipleFXPoints(t *testing.T) {
	reg := loadRegistry(t)
	c, err := reg.Get("aed-php")
	require.NoError(t, err)

	result, err := SimulateCorridor(c, types.MethodSerial, c.DefaultAmount, types.ChargeBearerShared)
	require.NoError(t, err)

	assertAmount(t, "5432.39", result.Steps[0].AmountAfter)
	assert.Equal(t, "USD", result.Steps[0].RunningCurrency)
	assertAmount(t, "5412.39", result.Steps[1].AmountAfter)
	assertAmount(t, "303074.08", result.Steps[2].AmountAfter)
	assert.Equal(t, "PHP", result.Steps[2].RunningCurrency)

	amount, ccy := result.FinalAmount()
	assertAmount(t, "303074.08", amount)
	assert.Equal(t, "PHP", ccy)
}
