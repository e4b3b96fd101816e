package swift

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Generator generates SWIFT messages
type Generator struct {
	sessionNumber string
}

// NewGenerator creates a generator stamping block 1 with sessionNumber
func NewGenerator(sessionNumber string) *Generator {
	if len(sessionNumber) != 4 {
		sessionNumber = "0000"
	}
	return &Generator{sessionNumber: sessionNumber}
}

// MT103Builder builds MT103 messages
type MT103Builder struct {
	msg *MT103Message
}

// NewMT103Builder creates a new MT103 builder
func NewMT103Builder() *MT103Builder {
	return &MT103Builder{
		msg: &MT103Message{
			Header: Header{
				MessageType:     string(MT103),
				MessagePriority: "N",
			},
			BankOperationCode: "CRED",
		},
	}
}

// SetRoute sets the sending and receiving institutions
func (b *MT103Builder) SetRoute(senderBIC, receiverBIC string) *MT103Builder {
	b.msg.SenderBIC = senderBIC
	b.msg.ReceiverBIC = receiverBIC
	return b
}

// SetReference sets the transaction reference (:20:) and the UETR (block 3 121)
func (b *MT103Builder) SetReference(ref, uetr string) *MT103Builder {
	b.msg.SenderReference = ref
	b.msg.UETR = uetr
	return b
}

// SetValueDateCurrencyAmount sets :32A: field
func (b *MT103Builder) SetValueDateCurrencyAmount(date time.Time, currency string, amount decimal.Decimal) *MT103Builder {
	b.msg.ValueDate = date
	b.msg.Currency = currency
	b.msg.Amount = amount
	return b
}

// SetInstructedAmount sets :33B: field
func (b *MT103Builder) SetInstructedAmount(currency string, amount decimal.Decimal) *MT103Builder {
	b.msg.InstructedCurrency = currency
	b.msg.InstructedAmount = &amount
	return b
}

// SetExchangeRate sets :36: field
func (b *MT103Builder) SetExchangeRate(rate decimal.Decimal) *MT103Builder {
	b.msg.ExchangeRate = &rate
	return b
}

// SetOrderingCustomer sets :50K: field
func (b *MT103Builder) SetOrderingCustomer(customer string) *MT103Builder {
	b.msg.OrderingCustomer = customer
	return b
}

// SetOrderingInstitution sets :52A: field
func (b *MT103Builder) SetOrderingInstitution(bic string) *MT103Builder {
	b.msg.OrderingInstitution = bic
	return b
}

// SetAccountWithInstitution sets :57A: field
func (b *MT103Builder) SetAccountWithInstitution(bic string) *MT103Builder {
	b.msg.AccountWithInstitution = bic
	return b
}

// SetBeneficiary sets :59: field
func (b *MT103Builder) SetBeneficiary(account, name string) *MT103Builder {
	b.msg.BeneficiaryAccount = account
	b.msg.BeneficiaryCustomer = name
	return b
}

// SetRemittanceInfo sets :70: field
func (b *MT103Builder) SetRemittanceInfo(info string) *MT103Builder {
	b.msg.RemittanceInfo = info
	return b
}

// SetCharges sets :71A: field (OUR/BEN/SHA)
func (b *MT103Builder) SetCharges(charges string) *MT103Builder {
	b.msg.DetailsOfCharges = charges
	return b
}

// AddSendersCharge appends a :71F: field
func (b *MT103Builder) AddSendersCharge(currency string, amount decimal.Decimal) *MT103Builder {
	b.msg.SendersCharges = append(b.msg.SendersCharges, Charge{Currency: currency, Amount: amount})
	return b
}

// SetReceiversCharge sets :71G: field
func (b *MT103Builder) SetReceiversCharge(currency string, amount decimal.Decimal) *MT103Builder {
	b.msg.ReceiversCharges = &Charge{Currency: currency, Amount: amount}
	return b
}

// Build builds the MT103 message
func (b *MT103Builder) Build() (*MT103Message, error) {
	if err := validateMT103(b.msg); err != nil {
		return nil, err
	}
	if b.msg.ApplicationID == "" {
		b.msg.ApplicationID = "F"
	}
	if b.msg.ServiceID == "" {
		b.msg.ServiceID = "01"
	}
	return b.msg, nil
}

// MT202Builder builds MT202 and MT202 COV messages
type MT202Builder struct {
	msg *MT202Message
}

// NewMT202Builder creates a new MT202 builder
func NewMT202Builder() *MT202Builder {
	return &MT202Builder{
		msg: &MT202Message{
			Header: Header{
				MessageType:     string(MT202),
				MessagePriority: "N",
			},
		},
	}
}

// SetRoute sets the sending and receiving institutions
func (b *MT202Builder) SetRoute(senderBIC, receiverBIC string) *MT202Builder {
	b.msg.SenderBIC = senderBIC
	b.msg.ReceiverBIC = receiverBIC
	return b
}

// SetReference sets :20:, :21: and the UETR
func (b *MT202Builder) SetReference(ref, related, uetr string) *MT202Builder {
	b.msg.SenderReference = ref
	b.msg.RelatedReference = related
	b.msg.UETR = uetr
	return b
}

// SetValueDateCurrencyAmount sets :32A: field
func (b *MT202Builder) SetValueDateCurrencyAmount(date time.Time, currency string, amount decimal.Decimal) *MT202Builder {
	b.msg.ValueDate = date
	b.msg.Currency = currency
	b.msg.Amount = amount
	return b
}

// SetOrderingInstitution sets :52A: field
func (b *MT202Builder) SetOrderingInstitution(bic string) *MT202Builder {
	b.msg.OrderingInstitution = bic
	return b
}

// SetAccountWithInstitution sets :57A: field
func (b *MT202Builder) SetAccountWithInstitution(bic string) *MT202Builder {
	b.msg.AccountWithInstitution = bic
	return b
}

// SetBeneficiaryInstitution sets :58A: field
func (b *MT202Builder) SetBeneficiaryInstitution(bic string) *MT202Builder {
	b.msg.BeneficiaryInstitution = bic
	return b
}

// SetUnderlyingCustomer turns the message into an MT202 COV carrying the
// customer transfer in sequence B
func (b *MT202Builder) SetUnderlyingCustomer(ordering, beneficiaryAccount, beneficiary, remittance string) *MT202Builder {
	b.msg.ValidationFlag = "COV"
	b.msg.OrderingCustomer = ordering
	b.msg.BeneficiaryAccount = beneficiaryAccount
	b.msg.BeneficiaryCustomer = beneficiary
	b.msg.RemittanceInfo = remittance
	return b
}

// Build builds the MT202 message
func (b *MT202Builder) Build() (*MT202Message, error) {
	if err := validateMT202(b.msg); err != nil {
		return nil, err
	}
	if b.msg.ApplicationID == "" {
		b.msg.ApplicationID = "F"
	}
	if b.msg.ServiceID == "" {
		b.msg.ServiceID = "01"
	}
	return b.msg, nil
}

// GenerateMT103 generates a SWIFT MT103 message string
func (g *Generator) GenerateMT103(msg *MT103Message, sequence int) (string, error) {
	if err := validateMT103(msg); err != nil {
		return "", err
	}

	var sb strings.Builder
	g.writeHeader(&sb, &msg.Header, string(MT103), sequence)

	sb.WriteString("{4:\n")
	fmt.Fprintf(&sb, ":20:%s\n", msg.SenderReference)
	fmt.Fprintf(&sb, ":23B:%s\n", msg.BankOperationCode)
	fmt.Fprintf(&sb, ":32A:%s%s%s\n", FormatDate(msg.ValueDate), msg.Currency, FormatAmount(msg.Amount, msg.Currency))
	if msg.InstructedAmount != nil {
		fmt.Fprintf(&sb, ":33B:%s%s\n", msg.InstructedCurrency, FormatAmount(*msg.InstructedAmount, msg.InstructedCurrency))
	}
	if msg.ExchangeRate != nil {
		fmt.Fprintf(&sb, ":36:%s\n", strings.ReplaceAll(msg.ExchangeRate.String(), ".", ","))
	}
	fmt.Fprintf(&sb, ":50K:%s\n", formatMultiline(msg.OrderingCustomer))
	if msg.OrderingInstitution != "" {
		fmt.Fprintf(&sb, ":52A:%s\n", msg.OrderingInstitution)
	}
	if msg.AccountWithInstitution != "" {
		fmt.Fprintf(&sb, ":57A:%s\n", msg.AccountWithInstitution)
	}
	writeBeneficiary(&sb, msg.BeneficiaryAccount, msg.BeneficiaryCustomer)
	if msg.RemittanceInfo != "" {
		fmt.Fprintf(&sb, ":70:%s\n", formatMultiline(msg.RemittanceInfo))
	}
	fmt.Fprintf(&sb, ":71A:%s\n", msg.DetailsOfCharges)
	for _, c := range msg.SendersCharges {
		fmt.Fprintf(&sb, ":71F:%s%s\n", c.Currency, FormatAmount(c.Amount, c.Currency))
	}
	if c := msg.ReceiversCharges; c != nil {
		fmt.Fprintf(&sb, ":71G:%s%s\n", c.Currency, FormatAmount(c.Amount, c.Currency))
	}
	if msg.SenderToReceiverInfo != "" {
		fmt.Fprintf(&sb, ":72:%s\n", formatMultiline(msg.SenderToReceiverInfo))
	}
	sb.WriteString("-}")

	return sb.String(), nil
}

// GenerateMT202 generates a SWIFT MT202 or MT202 COV message string
func (g *Generator) GenerateMT202(msg *MT202Message, sequence int) (string, error) {
	if err := validateMT202(msg); err != nil {
		return "", err
	}

	var sb strings.Builder
	g.writeHeader(&sb, &msg.Header, string(MT202), sequence)

	sb.WriteString("{4:\n")
	fmt.Fprintf(&sb, ":20:%s\n", msg.SenderReference)
	fmt.Fprintf(&sb, ":21:%s\n", msg.RelatedReference)
	fmt.Fprintf(&sb, ":32A:%s%s%s\n", FormatDate(msg.ValueDate), msg.Currency, FormatAmount(msg.Amount, msg.Currency))
	fmt.Fprintf(&sb, ":52A:%s\n", msg.OrderingInstitution)
	if msg.AccountWithInstitution != "" {
		fmt.Fprintf(&sb, ":57A:%s\n", msg.AccountWithInstitution)
	}
	fmt.Fprintf(&sb, ":58A:%s\n", msg.BeneficiaryInstitution)
	if msg.SenderToReceiverInfo != "" {
		fmt.Fprintf(&sb, ":72:%s\n", formatMultiline(msg.SenderToReceiverInfo))
	}

	if msg.IsCover() {
		fmt.Fprintf(&sb, ":50K:%s\n", formatMultiline(msg.OrderingCustomer))
		writeBeneficiary(&sb, msg.BeneficiaryAccount, msg.BeneficiaryCustomer)
		if msg.RemittanceInfo != "" {
			fmt.Fprintf(&sb, ":70:%s\n", formatMultiline(msg.RemittanceInfo))
		}
	}
	sb.WriteString("-}")

	return sb.String(), nil
}

func (g *Generator) writeHeader(sb *strings.Builder, h *Header, msgType string, sequence int) {
	appID := h.ApplicationID
	if appID == "" {
		appID = "F"
	}
	svcID := h.ServiceID
	if svcID == "" {
		svcID = "01"
	}
	seqNum := h.SequenceNumber
	if seqNum == "" {
		seqNum = fmt.Sprintf("%06d", sequence%1000000)
	}
	sessionNum := h.SessionNumber
	if sessionNum == "" {
		sessionNum = g.sessionNumber
	}
	priority := h.MessagePriority
	if priority == "" {
		priority = "N"
	}

	fmt.Fprintf(sb, "{1:%s%s%s%s%s}", appID, svcID, padBIC(h.SenderBIC), sessionNum, seqNum)
	fmt.Fprintf(sb, "{2:I%s%s%s}", msgType, padBIC(h.ReceiverBIC), priority)

	if h.ValidationFlag != "" || h.UETR != "" {
		sb.WriteString("{3:")
		if h.ValidationFlag != "" {
			fmt.Fprintf(sb, "{119:%s}", h.ValidationFlag)
		}
		if h.UETR != "" {
			fmt.Fprintf(sb, "{121:%s}", h.UETR)
		}
		sb.WriteString("}")
	}
}

func writeBeneficiary(sb *strings.Builder, account, name string) {
	sb.WriteString(":59:")
	if account != "" {
		fmt.Fprintf(sb, "/%s\n", account)
	}
	fmt.Fprintf(sb, "%s\n", formatMultiline(name))
}

func validateMT103(msg *MT103Message) error {
	switch {
	case msg.SenderBIC == "":
		return fmt.Errorf("%w: sender BIC", ErrMissingField)
	case msg.ReceiverBIC == "":
		return fmt.Errorf("%w: receiver BIC", ErrMissingField)
	case msg.SenderReference == "":
		return fmt.Errorf("%w: field 20 (Sender's Reference)", ErrMissingField)
	case msg.ValueDate.IsZero():
		return fmt.Errorf("%w: field 32A (Value Date)", ErrMissingField)
	case msg.Currency == "":
		return fmt.Errorf("%w: field 32A (Currency)", ErrMissingField)
	case !msg.Amount.IsPositive():
		return fmt.Errorf("%w: field 32A amount must be positive", ErrInvalidFieldFormat)
	case msg.OrderingCustomer == "":
		return fmt.Errorf("%w: field 50 (Ordering Customer)", ErrMissingField)
	case msg.BeneficiaryCustomer == "" && msg.BeneficiaryAccount == "":
		return fmt.Errorf("%w: field 59 (Beneficiary)", ErrMissingField)
	case msg.DetailsOfCharges == "":
		return fmt.Errorf("%w: field 71A (Details of Charges)", ErrMissingField)
	}
	return nil
}

func validateMT202(msg *MT202Message) error {
	switch {
	case msg.SenderBIC == "":
		return fmt.Errorf("%w: sender BIC", ErrMissingField)
	case msg.ReceiverBIC == "":
		return fmt.Errorf("%w: receiver BIC", ErrMissingField)
	case msg.SenderReference == "":
		return fmt.Errorf("%w: field 20 (Sender's Reference)", ErrMissingField)
	case msg.RelatedReference == "":
		return fmt.Errorf("%w: field 21 (Related Reference)", ErrMissingField)
	case msg.ValueDate.IsZero():
		return fmt.Errorf("%w: field 32A (Value Date)", ErrMissingField)
	case msg.Currency == "":
		return fmt.Errorf("%w: field 32A (Currency)", ErrMissingField)
	case !msg.Amount.IsPositive():
		return fmt.Errorf("%w: field 32A amount must be positive", ErrInvalidFieldFormat)
	case msg.OrderingInstitution == "":
		return fmt.Errorf("%w: field 52 (Ordering Institution)", ErrMissingField)
	case msg.BeneficiaryInstitution == "":
		return fmt.Errorf("%w: field 58 (Beneficiary Institution)", ErrMissingField)
	case msg.IsCover() && msg.OrderingCustomer == "":
		return fmt.Errorf("%w: field 50 (Ordering Customer) in sequence B", ErrMissingField)
	case msg.IsCover() && msg.BeneficiaryCustomer == "" && msg.BeneficiaryAccount == "":
		return fmt.Errorf("%w: field 59 (Beneficiary) in sequence B", ErrMissingField)
	}
	return nil
}
