// Corridor configuration validation
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/deltran/corridorsim/internal/iso20022"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	countryRegex  = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Result holds the defects found in one corridor
type Result struct {
	CorridorID string   `json:"corridor_id"`
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
}

func (r *Result) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validator checks corridor definitions before they are served
type Validator struct {
	logger *zap.Logger
}

// New creates a new validator
func New(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger}
}

// ValidateCatalog validates every corridor and rejects the whole catalog if
// any corridor is defective. The returned error lists every defect.
func (v *Validator) ValidateCatalog(corridors []types.Corridor) error {
	var defects []string
	seen := make(map[string]bool, len(corridors))

	if len(corridors) == 0 {
		defects = append(defects, "catalog has no corridors")
	}

	for i := range corridors {
		c := &corridors[i]
		if c.ID != "" {
			if seen[c.ID] {
				defects = append(defects, fmt.Sprintf("%s: duplicate corridor id", c.ID))
			}
			seen[c.ID] = true
		}

		result := v.ValidateCorridor(c)
		for _, w := range result.Warnings {
			v.logger.Warn("Corridor warning", zap.String("corridor", c.ID), zap.String("warning", w))
		}
		for _, e := range result.Errors {
			defects = append(defects, fmt.Sprintf("%s: %s", label(c, i), e))
		}
	}

	if len(defects) > 0 {
		v.logger.Error("Corridor catalog rejected", zap.Int("defects", len(defects)))
		return &types.SimError{
			Code:    types.ErrorCodeConfiguration,
			Message: "invalid corridor configuration",
			Details: strings.Join(defects, "; "),
		}
	}
	return nil
}

// ValidateCorridor checks one corridor's reference data and both step sequences
func (v *Validator) ValidateCorridor(c *types.Corridor) *Result {
	result := &Result{
		CorridorID: c.ID,
		Valid:      true,
		Errors:     []string{},
		Warnings:   []string{},
	}

	// 1. Identity and currencies
	if strings.TrimSpace(c.ID) == "" {
		result.fail("corridor id is required")
	}
	if c.Name == "" {
		result.warn("corridor name missing")
	}
	if !currencyRegex.MatchString(c.SourceCurrency) {
		result.fail("invalid source currency %q", c.SourceCurrency)
	}
	if !currencyRegex.MatchString(c.TargetCurrency) {
		result.fail("invalid target currency %q", c.TargetCurrency)
	}
	if err := ValidateAmount(c.DefaultAmount, c.SourceCurrency); err != nil {
		result.fail("default amount: %v", err)
	}
	if c.FXRate.IsNegative() || c.FXSpread.IsNegative() || c.TotalCostPct.IsNegative() {
		result.fail("headline figures must not be negative")
	}

	// 2. Banks
	v.validateBanks(c, result)
	if !result.Valid {
		// Step checks index into the bank list
		return result
	}

	// 3. Step sequences
	v.validateSequence(c, types.MethodSerial, c.SerialSteps, result)
	v.validateSequence(c, types.MethodCover, c.CoverSteps, result)

	if len(c.CoverSteps) <= len(c.SerialSteps) {
		result.fail("cover sequence (%d steps) must be longer than serial (%d steps)", len(c.CoverSteps), len(c.SerialSteps))
	}

	return result
}

func (v *Validator) validateBanks(c *types.Corridor, result *Result) {
	if len(c.Banks) < 2 {
		result.fail("corridor needs at least two banks, got %d", len(c.Banks))
		return
	}

	roles := make(map[types.Role]int)
	for i, b := range c.Banks {
		if b.Name == "" {
			result.fail("bank %d: name required", i)
		}
		if !iso20022.IsValidBIC(b.BIC) {
			result.fail("bank %d: invalid BIC %q", i, b.BIC)
		}
		if !countryRegex.MatchString(b.CountryCode) {
			result.fail("bank %d: invalid country code %q", i, b.CountryCode)
		}
		if !b.Role.Valid() {
			result.fail("bank %d: unknown role %q", i, b.Role)
		}
		roles[b.Role]++
	}

	if roles[types.RoleOriginator] != 1 {
		result.fail("exactly one originator required, got %d", roles[types.RoleOriginator])
	}
	if roles[types.RoleBeneficiary] != 1 {
		result.fail("exactly one beneficiary required, got %d", roles[types.RoleBeneficiary])
	}
}

func (v *Validator) validateSequence(c *types.Corridor, method types.SettlementMethod, steps []types.Step, result *Result) {
	if len(steps) == 0 {
		result.fail("%s: no steps", method)
		return
	}

	n := len(c.Banks)
	orig := c.Originator()
	ben := c.Beneficiary()
	currency := c.SourceCurrency
	firstForward := true
	reachesOriginator := false
	visited := make(map[int]bool)
	direct := false

	for i, s := range steps {
		at := fmt.Sprintf("%s step %d", method, s.ID)

		if s.ID != i+1 {
			result.fail("%s: ids must be contiguous from 1, got %d at position %d", method, s.ID, i)
		}
		if s.From < 0 || s.From >= n || s.To < 0 || s.To >= n {
			result.fail("%s: bank index out of range (%d -> %d)", at, s.From, s.To)
			continue
		}
		if s.From == s.To {
			result.fail("%s: from and to are the same bank", at)
		}
		if !s.Direction.Valid() {
			result.fail("%s: unknown direction %q", at, s.Direction)
			continue
		}

		if err := iso20022.CheckTemplate(s.MessageType, s.MessageTemplate); err != nil {
			result.fail("%s: %v", at, err)
		}

		if !s.IsForward() {
			if s.HasFee() {
				result.fail("%s: fee on a backward step", at)
			}
			if s.HasFX() {
				result.fail("%s: FX on a backward step", at)
			}
			if s.To == orig {
				reachesOriginator = true
			}
			continue
		}

		if firstForward {
			if s.From != orig {
				result.fail("%s: first forward step must start at the originator", at)
			}
			firstForward = false
		}

		if s.HasFee() && s.Fee.IsNegative() {
			result.fail("%s: negative fee", at)
		}

		if s.HasFX() {
			switch {
			case !s.FXRate.IsPositive():
				result.fail("%s: FX rate must be positive", at)
			case s.FXFrom == "" || s.FXTo == "":
				result.fail("%s: FX step needs fxFrom and fxTo", at)
			case s.FXFrom != currency:
				result.fail("%s: fxFrom %s does not match prevailing currency %s", at, s.FXFrom, currency)
			default:
				currency = s.FXTo
			}
		} else if s.FXFrom != "" || s.FXTo != "" {
			result.fail("%s: fxFrom/fxTo without an FX rate", at)
		}

		if s.HasFee() && !s.Fee.Equal(types.RoundToCurrency(*s.Fee, feeCurrency(s, currency))) {
			result.warn("%s: fee has more precision than its currency", at)
		}

		switch method {
		case types.MethodSerial:
			if s.To != s.From+1 {
				result.fail("%s: serial hop must advance one bank (%d -> %d)", at, s.From, s.To)
			}
		case types.MethodCover:
			if s.From == orig && s.To == ben {
				direct = true
			} else {
				visited[s.From] = true
				visited[s.To] = true
			}
		}
	}

	if currency != c.TargetCurrency {
		result.fail("%s: FX chain ends in %s, want %s", method, currency, c.TargetCurrency)
	}

	last := steps[len(steps)-1]
	if last.Direction != types.DirectionBackward || last.To != 0 {
		result.fail("%s: last step must be backward and reach bank 0", method)
	}
	if !reachesOriginator {
		result.fail("%s: no backward step reaches the originator", method)
	}

	if method == types.MethodCover {
		if !direct {
			result.fail("cover: missing direct instruction from originator to beneficiary")
		}
		for i := 0; i < n; i++ {
			if !visited[i] {
				result.fail("cover: cover leg does not visit bank %d", i)
			}
		}
	}
}

// feeCurrency is the currency a forward step's fee is charged in: the
// currency prevailing before the step's own conversion.
func feeCurrency(s types.Step, after string) string {
	if s.HasFX() {
		return s.FXFrom
	}
	return after
}

func label(c *types.Corridor, i int) string {
	if c.ID != "" {
		return c.ID
	}
	return fmt.Sprintf("corridor[%d]", i)
}

// ValidateAmount checks a user-entered principal in currency: positive, no
// finer than the currency's minor units and within its single-payment limit.
// Precision and magnitude are read from the exponent and digit count before
// any arithmetic, so "1e8000000" is refused without being expanded.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return types.NewError(types.ErrorCodeInvalidAmount, "amount must be greater than zero", "")
	}

	minor := types.MinorUnits(currency)
	if amount.Exponent() < -minor {
		return types.NewError(types.ErrorCodeInvalidAmount,
			fmt.Sprintf("amount has more than %d decimal places for %s", minor, currency), "")
	}

	limit := types.MaxAmount(currency)
	if int64(amount.NumDigits())+int64(amount.Exponent()) > int64(limit.NumDigits()) ||
		amount.GreaterThan(limit) {
		return types.NewError(types.ErrorCodeInvalidAmount,
			fmt.Sprintf("amount exceeds limit %s for %s", limit.String(), currency), "")
	}
	return nil
}
