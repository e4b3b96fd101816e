// Domain types for the corridor simulator
package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Role is a bank's position in a corridor's chain
type Role string

const (
	RoleOriginator    Role = "originator"
	RoleCorrespondent Role = "correspondent"
	RoleIntermediary  Role = "intermediary"
	RoleBeneficiary   Role = "beneficiary"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleOriginator, RoleCorrespondent, RoleIntermediary, RoleBeneficiary:
		return true
	}
	return false
}

// Direction of a step relative to the originator -> beneficiary chain
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionForward || d == DirectionBackward
}

// SettlementMethod selects which of a corridor's step sequences is played
type SettlementMethod string

const (
	MethodSerial SettlementMethod = "serial"
	MethodCover  SettlementMethod = "cover"
)

// ParseSettlementMethod parses a method name (case-insensitive)
func ParseSettlementMethod(s string) (SettlementMethod, error) {
	switch SettlementMethod(strings.ToLower(strings.TrimSpace(s))) {
	case MethodSerial:
		return MethodSerial, nil
	case MethodCover:
		return MethodCover, nil
	}
	return "", NewError(ErrorCodeInvalidSelection, "unknown settlement method", s)
}

// ChargeBearer is the policy deciding who absorbs inter-bank fees
type ChargeBearer string

const (
	ChargeBearerShared      ChargeBearer = "SHA"
	ChargeBearerSender      ChargeBearer = "OUR"
	ChargeBearerBeneficiary ChargeBearer = "BEN"
)

// ChargeBearers lists every policy in display order
var ChargeBearers = []ChargeBearer{ChargeBearerShared, ChargeBearerSender, ChargeBearerBeneficiary}

// ParseChargeBearer accepts the MT :71A: codes and the ISO 20022 ChrgBr codes
func ParseChargeBearer(s string) (ChargeBearer, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SHA", "SHAR":
		return ChargeBearerShared, nil
	case "OUR", "DEBT":
		return ChargeBearerSender, nil
	case "BEN", "CRED":
		return ChargeBearerBeneficiary, nil
	}
	return "", NewError(ErrorCodeInvalidSelection, "unknown charge bearer", s)
}

// Valid reports whether c is a known policy
func (c ChargeBearer) Valid() bool {
	return c == ChargeBearerShared || c == ChargeBearerSender || c == ChargeBearerBeneficiary
}

// ISOCode returns the ISO 20022 ChrgBr code for the policy
func (c ChargeBearer) ISOCode() string {
	switch c {
	case ChargeBearerSender:
		return "DEBT"
	case ChargeBearerBeneficiary:
		return "CRED"
	default:
		return "SHAR"
	}
}

// Bank is immutable reference data, identified by its index in Corridor.Banks
type Bank struct {
	Name        string `json:"name"`
	BIC         string `json:"bic"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Role        Role   `json:"role"`
}

// Step is one message exchanged between two banks of a corridor.
// From and To are indices into the owning corridor's bank list.
type Step struct {
	ID              int              `json:"id"`
	From            int              `json:"from"`
	To              int              `json:"to"`
	Direction       Direction        `json:"direction"`
	MessageType     string           `json:"message_type"` // pacs.008, pacs.009, pacs.002
	MessageName     string           `json:"message_name"`
	Description     string           `json:"description"`
	Duration        string           `json:"duration"`
	Fee             *decimal.Decimal `json:"fee,omitempty"`
	FXRate          *decimal.Decimal `json:"fx_rate,omitempty"`
	FXFrom          string           `json:"fx_from,omitempty"`
	FXTo            string           `json:"fx_to,omitempty"`
	NostroAction    string           `json:"nostro_action,omitempty"`
	MessageTemplate string           `json:"message_template"`
	Detail          string           `json:"detail"`
}

// Clone returns a copy of s that shares no pointers with it
func (s Step) Clone() Step {
	if s.Fee != nil {
		fee := *s.Fee
		s.Fee = &fee
	}
	if s.FXRate != nil {
		rate := *s.FXRate
		s.FXRate = &rate
	}
	return s
}

// IsForward reports whether the step moves funds or instructions toward the beneficiary
func (s Step) IsForward() bool {
	return s.Direction == DirectionForward
}

// HasFee reports whether the step carries a fee
func (s Step) HasFee() bool {
	return s.Fee != nil
}

// HasFX reports whether the step is a currency conversion point
func (s Step) HasFX() bool {
	return s.FXRate != nil
}

// Corridor is a complete, self-contained payment scenario.
// FXRate, FXSpread and TotalCostPct are authored headline figures and are
// not derived from the per-step fees and rates.
type Corridor struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	SenderCountry   string          `json:"sender_country"`
	SenderFlag      string          `json:"sender_flag"`
	ReceiverCountry string          `json:"receiver_country"`
	ReceiverFlag    string          `json:"receiver_flag"`
	SourceCurrency  string          `json:"source_currency"`
	TargetCurrency  string          `json:"target_currency"`
	DefaultAmount   decimal.Decimal `json:"default_amount"`
	FXRate          decimal.Decimal `json:"fx_rate"`
	FXSpread        decimal.Decimal `json:"fx_spread"`
	TotalCostPct    decimal.Decimal `json:"total_cost_pct"`
	SettlementTime  string          `json:"settlement_time"`
	Banks           []Bank          `json:"banks"`
	SerialSteps     []Step          `json:"serial_steps"`
	CoverSteps      []Step          `json:"cover_steps"`
}

// Steps returns the step sequence for a settlement method
func (c *Corridor) Steps(method SettlementMethod) ([]Step, error) {
	switch method {
	case MethodSerial:
		return c.SerialSteps, nil
	case MethodCover:
		return c.CoverSteps, nil
	}
	return nil, NewError(ErrorCodeInvalidSelection, "unknown settlement method", string(method))
}

// Originator returns the index of the originating bank, or -1
func (c *Corridor) Originator() int {
	return c.indexOf(RoleOriginator)
}

// Beneficiary returns the index of the beneficiary bank, or -1
func (c *Corridor) Beneficiary() int {
	return c.indexOf(RoleBeneficiary)
}

func (c *Corridor) indexOf(role Role) int {
	for i, b := range c.Banks {
		if b.Role == role {
			return i
		}
	}
	return -1
}

// Bank returns the bank at index i
func (c *Corridor) Bank(i int) (Bank, error) {
	if i < 0 || i >= len(c.Banks) {
		return Bank{}, NewError(ErrorCodeNotFound, "bank index out of range", fmt.Sprintf("%s[%d]", c.ID, i))
	}
	return c.Banks[i], nil
}

// DerivedStep is a step enriched with the simulated amounts.
// Step is a deep copy; the source record is never modified or shared.
type DerivedStep struct {
	Step            Step            `json:"step"`
	AmountBefore    decimal.Decimal `json:"amount_before"`
	AmountAfter     decimal.Decimal `json:"amount_after"`
	RunningCurrency string          `json:"running_currency"`
	CurrencyBefore  string          `json:"currency_before"`
	FeeApplied      decimal.Decimal `json:"fee_applied"`
	FXApplied       bool            `json:"fx_applied"`
}

// StepStatus is a step's playback state relative to the cursor
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepActive    StepStatus = "active"
	StepPending   StepStatus = "pending"
)

// minorUnits holds ISO 4217 exponents that differ from 2
var minorUnits = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
}

// MinorUnits returns the number of decimal places used by a currency
func MinorUnits(currency string) int32 {
	if n, ok := minorUnits[currency]; ok {
		return n
	}
	return 2
}

// DefaultMaxAmount caps principals in currencies without their own limit
var DefaultMaxAmount = decimal.NewFromInt(10000000)

// maxAmounts are per-currency single-payment ceilings
var maxAmounts = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(10000000),
	"EUR": decimal.NewFromInt(10000000),
	"GBP": decimal.NewFromInt(10000000),
	"SGD": decimal.NewFromInt(13000000),
	"AED": decimal.NewFromInt(37000000),
	"INR": decimal.NewFromInt(750000000),
	"PHP": decimal.NewFromInt(560000000),
	"JPY": decimal.NewFromInt(1500000000),
}

// MaxAmount returns the largest single payment accepted in currency
func MaxAmount(currency string) decimal.Decimal {
	if m, ok := maxAmounts[currency]; ok {
		return m
	}
	return DefaultMaxAmount
}

// AmountLimits returns a copy of the per-currency ceilings
func AmountLimits() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(maxAmounts))
	for ccy, m := range maxAmounts {
		out[ccy] = m
	}
	return out
}

// RoundToCurrency rounds an amount to the currency's minor units, half away from zero
func RoundToCurrency(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(MinorUnits(currency))
}

// FormatAmount renders an amount with the currency's minor units
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(MinorUnits(currency))
}
