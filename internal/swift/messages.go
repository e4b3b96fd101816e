// Package swift renders corridor steps as their legacy MT equivalents and
// reads them back.
package swift

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deltran/corridorsim/internal/types"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMessage     = errors.New("invalid SWIFT message format")
	ErrInvalidBlock       = errors.New("invalid block format")
	ErrMissingField       = errors.New("missing required field")
	ErrInvalidFieldFormat = errors.New("invalid field format")
	ErrUnsupportedMessage = errors.New("unsupported message type")
	ErrNotRenderable      = errors.New("step has no MT equivalent")
)

// MessageType represents SWIFT message type
type MessageType string

const (
	MT103 MessageType = "103" // Single Customer Credit Transfer
	MT202 MessageType = "202" // General Financial Institution Transfer (COV when block 3 says so)
)

// Header carries blocks 1 to 3, shared by every MT
type Header struct {
	// Block 1: Basic Header
	ApplicationID  string // F = FIN
	ServiceID      string // 01 = FIN
	SenderBIC      string // 12 character logical terminal
	SessionNumber  string // 4 digits
	SequenceNumber string // 6 digits

	// Block 2: Application Header
	MessageType     string
	ReceiverBIC     string
	MessagePriority string // U = Urgent, N = Normal

	// Block 3: User Header
	ValidationFlag string // 119: STP or COV
	UETR           string // 121: end-to-end tracking reference
}

// Charge is one :71F: or :71G: amount
type Charge struct {
	Currency string
	Amount   decimal.Decimal
}

// MT103Message is a single customer credit transfer
type MT103Message struct {
	Header

	// Mandatory fields
	SenderReference     string          // :20:
	BankOperationCode   string          // :23B: CRED
	ValueDate           time.Time       // :32A:
	Currency            string          // :32A:
	Amount              decimal.Decimal // :32A:
	OrderingCustomer    string          // :50K:
	BeneficiaryCustomer string          // :59:
	DetailsOfCharges    string          // :71A: SHA/OUR/BEN

	// Optional fields
	InstructedCurrency     string           // :33B:
	InstructedAmount       *decimal.Decimal // :33B:
	ExchangeRate           *decimal.Decimal // :36:
	OrderingInstitution    string           // :52A:
	AccountWithInstitution string           // :57A:
	BeneficiaryAccount     string           // :59: first line
	RemittanceInfo         string           // :70:
	SendersCharges         []Charge         // :71F:
	ReceiversCharges       *Charge          // :71G:
	SenderToReceiverInfo   string           // :72:
}

// MT202Message is a financial institution transfer. With ValidationFlag COV
// it carries the underlying customer transfer in sequence B.
type MT202Message struct {
	Header

	// Sequence A
	SenderReference        string          // :20:
	RelatedReference       string          // :21:
	ValueDate              time.Time       // :32A:
	Currency               string          // :32A:
	Amount                 decimal.Decimal // :32A:
	OrderingInstitution    string          // :52A:
	AccountWithInstitution string          // :57A:
	BeneficiaryInstitution string          // :58A:
	SenderToReceiverInfo   string          // :72:

	// Sequence B, COV only
	OrderingCustomer    string // :50K:
	BeneficiaryCustomer string // :59:
	BeneficiaryAccount  string // :59: first line
	RemittanceInfo      string // :70:
}

// IsCover reports whether the message is an MT202 COV
func (m *MT202Message) IsCover() bool {
	return m.ValidationFlag == "COV"
}

// FormatAmount formats an amount for :32A:, :33B: and :71F: with the
// currency's minor units and a decimal comma. The comma is mandatory even
// for currencies without minor units.
func FormatAmount(amount decimal.Decimal, currency string) string {
	s := strings.ReplaceAll(amount.StringFixed(types.MinorUnits(currency)), ".", ",")
	if !strings.Contains(s, ",") {
		s += ","
	}
	return s
}

// ParseAmount reads an MT amount with a decimal comma
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSuffix(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), ".")
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q", ErrInvalidFieldFormat, s)
	}
	return amount, nil
}

// FormatDate formats a date for SWIFT (YYMMDD)
func FormatDate(date time.Time) string {
	return date.Format("060102")
}

// padBIC pads a BIC to the 12 character logical terminal address
func padBIC(bic string) string {
	switch len(bic) {
	case 8:
		return bic + "XXXX"
	case 11:
		return bic[:8] + "X" + bic[8:]
	}
	return bic
}

// bicFromLT recovers the BIC from a logical terminal address
func bicFromLT(lt string) string {
	if len(lt) != 12 {
		return lt
	}
	if lt[9:] == "XXX" {
		return lt[:8]
	}
	return lt[:8] + lt[9:]
}

// formatMultiline formats text for SWIFT (max 35 chars per line, max 4 lines)
func formatMultiline(text string) string {
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	result := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) > 35 {
			line = line[:35]
		}
		if line != "" {
			result = append(result, line)
		}
		if len(result) >= 4 {
			break
		}
	}

	return strings.Join(result, "\n")
}
