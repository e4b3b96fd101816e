package swift

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/deltran/corridorsim/internal/iso20022"
	"github.com/shopspring/decimal"
)

var (
	fieldTagRegex = regexp.MustCompile(`^:(\d{2}[A-Z]?):(.*)$`)
	userTagRegex  = regexp.MustCompile(`\{(\d{3}):([^}]*)\}`)
)

// Field represents a SWIFT field
type Field struct {
	Tag   string
	Value string
}

// Parser parses SWIFT messages
type Parser struct {
	strict bool // Strict mode also checks BICs
}

// NewParser creates a new SWIFT parser
func NewParser(strict bool) *Parser {
	return &Parser{strict: strict}
}

// Parse parses a SWIFT message and returns *MT103Message or *MT202Message
func (p *Parser) Parse(message string) (interface{}, error) {
	blocks, err := splitBlocks(message)
	if err != nil {
		return nil, err
	}
	b2, ok := blocks["2"]
	if !ok || len(b2) < 4 {
		return nil, ErrInvalidBlock
	}

	switch MessageType(b2[1:4]) {
	case MT103:
		return p.ParseMT103(message)
	case MT202:
		return p.ParseMT202(message)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessage, b2[1:4])
	}
}

// ParseMT103 parses a SWIFT MT103 message
func (p *Parser) ParseMT103(message string) (*MT103Message, error) {
	msg := &MT103Message{}
	fields, err := p.parseEnvelope(message, &msg.Header)
	if err != nil {
		return nil, err
	}

	for _, f := range fields {
		switch f.Tag {
		case "20":
			msg.SenderReference = f.Value
		case "23B":
			msg.BankOperationCode = f.Value
		case "32A":
			msg.ValueDate, msg.Currency, msg.Amount, err = parseField32A(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field 32A: %w", err)
			}
		case "33B":
			ccy, amount, err := parseCurrencyAmount(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field 33B: %w", err)
			}
			msg.InstructedCurrency = ccy
			msg.InstructedAmount = &amount
		case "36":
			rate, err := ParseAmount(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field 36: %w", err)
			}
			msg.ExchangeRate = &rate
		case "50K", "50F":
			msg.OrderingCustomer = f.Value
		case "52A":
			msg.OrderingInstitution = f.Value
		case "57A":
			msg.AccountWithInstitution = f.Value
		case "59", "59A":
			msg.BeneficiaryAccount, msg.BeneficiaryCustomer = splitBeneficiary(f.Value)
		case "70":
			msg.RemittanceInfo = f.Value
		case "71A":
			msg.DetailsOfCharges = f.Value
		case "71F":
			ccy, amount, err := parseCurrencyAmount(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field 71F: %w", err)
			}
			msg.SendersCharges = append(msg.SendersCharges, Charge{Currency: ccy, Amount: amount})
		case "71G":
			ccy, amount, err := parseCurrencyAmount(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field 71G: %w", err)
			}
			msg.ReceiversCharges = &Charge{Currency: ccy, Amount: amount}
		case "72":
			msg.SenderToReceiverInfo = f.Value
		}
	}

	if msg.MessageType != string(MT103) {
		return nil, fmt.Errorf("%w: block 2 carries %s", ErrUnsupportedMessage, msg.MessageType)
	}
	if err := validateMT103(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParseMT202 parses a SWIFT MT202 or MT202 COV message
func (p *Parser) ParseMT202(message string) (*MT202Message, error) {
	msg := &MT202Message{}
	fields, err := p.parseEnvelope(message, &msg.Header)
	if err != nil {
		return nil, err
	}

	for _, f := range fields {
		switch f.Tag {
		case "20":
			msg.SenderReference = f.Value
		case "21":
			msg.RelatedReference = f.Value
		case "32A":
			msg.ValueDate, msg.Currency, msg.Amount, err = parseField32A(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field 32A: %w", err)
			}
		case "52A":
			msg.OrderingInstitution = f.Value
		case "57A":
			msg.AccountWithInstitution = f.Value
		case "58A":
			msg.BeneficiaryInstitution = f.Value
		case "72":
			msg.SenderToReceiverInfo = f.Value
		case "50K", "50F":
			msg.OrderingCustomer = f.Value
		case "59", "59A":
			msg.BeneficiaryAccount, msg.BeneficiaryCustomer = splitBeneficiary(f.Value)
		case "70":
			msg.RemittanceInfo = f.Value
		}
	}

	if msg.MessageType != string(MT202) {
		return nil, fmt.Errorf("%w: block 2 carries %s", ErrUnsupportedMessage, msg.MessageType)
	}
	if err := validateMT202(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// parseEnvelope reads blocks 1 to 3 into h and returns the block 4 fields
func (p *Parser) parseEnvelope(message string, h *Header) ([]Field, error) {
	blocks, err := splitBlocks(message)
	if err != nil {
		return nil, err
	}

	b1, ok := blocks["1"]
	if !ok || len(b1) < 25 {
		return nil, fmt.Errorf("%w: block 1 length %d, expected 25", ErrInvalidBlock, len(b1))
	}
	h.ApplicationID = b1[0:1]
	h.ServiceID = b1[1:3]
	h.SenderBIC = bicFromLT(b1[3:15])
	h.SessionNumber = b1[15:19]
	h.SequenceNumber = b1[19:25]

	// Input format: I103BANKDEFFXXXXN
	b2, ok := blocks["2"]
	if !ok || len(b2) < 16 {
		return nil, fmt.Errorf("%w: block 2", ErrInvalidBlock)
	}
	h.MessageType = b2[1:4]
	h.ReceiverBIC = bicFromLT(b2[4:16])
	if len(b2) > 16 {
		h.MessagePriority = b2[16:17]
	}

	if b3, ok := blocks["3"]; ok {
		for _, m := range userTagRegex.FindAllStringSubmatch(b3, -1) {
			switch m[1] {
			case "119":
				h.ValidationFlag = m[2]
			case "121":
				h.UETR = m[2]
			}
		}
	}

	b4, ok := blocks["4"]
	if !ok {
		return nil, fmt.Errorf("%w: no text block", ErrInvalidMessage)
	}

	if p.strict {
		for _, bic := range []string{h.SenderBIC, h.ReceiverBIC} {
			if !iso20022.IsValidBIC(bic) {
				return nil, fmt.Errorf("%w: BIC %q", ErrInvalidFieldFormat, bic)
			}
		}
	}

	return extractFields(b4), nil
}

// splitBlocks splits {1:...}{2:...}{3:{...}}{4:...-} by brace depth, so that
// nested user header tags stay inside block 3
func splitBlocks(message string) (map[string]string, error) {
	blocks := make(map[string]string)
	message = strings.TrimSpace(message)

	for i := 0; i < len(message); {
		if message[i] != '{' {
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidMessage, message[i], i)
		}
		colon := strings.IndexByte(message[i:], ':')
		if colon < 0 {
			return nil, ErrInvalidBlock
		}
		id := message[i+1 : i+colon]

		depth := 0
		end := -1
		for j := i; j < len(message); j++ {
			switch message[j] {
			case '{':
				depth++
			case '}':
				depth--
			}
			if depth == 0 {
				end = j
				break
			}
		}
		if end < 0 {
			return nil, fmt.Errorf("%w: block %s not terminated", ErrInvalidBlock, id)
		}

		blocks[id] = message[i+colon+1 : end]
		i = end + 1
	}

	if len(blocks) < 3 {
		return nil, ErrInvalidMessage
	}
	return blocks, nil
}

// extractFields reads the text block line by line; lines that do not start a
// new tag continue the previous field
func extractFields(block string) []Field {
	var fields []Field
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || line == "-" {
			continue
		}
		if m := fieldTagRegex.FindStringSubmatch(line); m != nil {
			fields = append(fields, Field{Tag: m[1], Value: strings.TrimSpace(m[2])})
			continue
		}
		if n := len(fields); n > 0 {
			fields[n-1].Value += "\n" + strings.TrimSpace(line)
		}
	}
	return fields
}

// parseField32A parses YYMMDDCCCAMOUNT
func parseField32A(value string) (time.Time, string, decimal.Decimal, error) {
	if len(value) < 10 {
		return time.Time{}, "", decimal.Zero, ErrInvalidFieldFormat
	}
	date, err := time.Parse("060102", value[0:6])
	if err != nil {
		return time.Time{}, "", decimal.Zero, fmt.Errorf("%w: date %q", ErrInvalidFieldFormat, value[0:6])
	}
	ccy, amount, err := parseCurrencyAmount(value[6:])
	if err != nil {
		return time.Time{}, "", decimal.Zero, err
	}
	return date, ccy, amount, nil
}

// parseCurrencyAmount parses CCCAMOUNT
func parseCurrencyAmount(value string) (string, decimal.Decimal, error) {
	if len(value) < 4 {
		return "", decimal.Zero, ErrInvalidFieldFormat
	}
	amount, err := ParseAmount(value[3:])
	if err != nil {
		return "", decimal.Zero, err
	}
	return value[0:3], amount, nil
}

// splitBeneficiary separates an optional /account first line from the name
func splitBeneficiary(value string) (account, name string) {
	lines := strings.SplitN(value, "\n", 2)
	if strings.HasPrefix(lines[0], "/") {
		account = strings.TrimPrefix(lines[0], "/")
		if len(lines) > 1 {
			name = lines[1]
		}
		return account, name
	}
	return "", value
}
