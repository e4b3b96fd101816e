package iso20022

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// Message types used by corridor steps
const (
	MessageTypePacs008 = "pacs.008"
	MessageTypePacs009 = "pacs.009"
	MessageTypePacs002 = "pacs.002"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedTemplate  = errors.New("malformed message template")
	ErrElementMismatch    = errors.New("business element does not match message type")
	ErrNoSettlementAmount = errors.New("template has no interbank settlement amount")
)

var businessElements = map[string]string{
	MessageTypePacs008: "FIToFICstmrCdtTrf",
	MessageTypePacs009: "FICdtTrf",
	MessageTypePacs002: "FIToFIPmtStsRpt",
}

// MessageElement returns the business element name a message type must carry
func MessageElement(messageType string) (string, error) {
	el, ok := businessElements[messageType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMessageType, messageType)
	}
	return el, nil
}

// IsTransfer reports whether the message type moves value
func IsTransfer(messageType string) bool {
	return messageType == MessageTypePacs008 || messageType == MessageTypePacs009
}

// CheckTemplate verifies that a template is well-formed XML and that the first
// child of the Document root is the business element of messageType.
func CheckTemplate(messageType, template string) error {
	want, err := MessageElement(messageType)
	if err != nil {
		return err
	}

	dec := xml.NewDecoder(strings.NewReader(template))
	depth := 0
	found := ""
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 && t.Name.Local != "Document" {
				return fmt.Errorf("%w: root element is %s", ErrMalformedTemplate, t.Name.Local)
			}
			if depth == 2 && found == "" {
				found = t.Name.Local
			}
		case xml.EndElement:
			depth--
		}
	}

	if found == "" {
		return fmt.Errorf("%w: empty document", ErrMalformedTemplate)
	}
	if found != want {
		return fmt.Errorf("%w: %s carries %s, want %s", ErrElementMismatch, messageType, found, want)
	}
	return nil
}

type settlementEnvelope struct {
	Customer *struct {
		Tx struct {
			Amt *ActiveAmount `xml:"IntrBkSttlmAmt"`
		} `xml:"CdtTrfTxInf"`
	} `xml:"FIToFICstmrCdtTrf"`
	Institution *struct {
		Tx struct {
			Amt *ActiveAmount `xml:"IntrBkSttlmAmt"`
		} `xml:"CdtTrfTxInf"`
	} `xml:"FICdtTrf"`
}

// SettlementAmount extracts CdtTrfTxInf/IntrBkSttlmAmt from a pacs.008 or
// pacs.009 template
func SettlementAmount(template string) (decimal.Decimal, string, error) {
	var env settlementEnvelope
	if err := xml.Unmarshal([]byte(template), &env); err != nil {
		return decimal.Zero, "", fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}

	var amt *ActiveAmount
	switch {
	case env.Customer != nil:
		amt = env.Customer.Tx.Amt
	case env.Institution != nil:
		amt = env.Institution.Tx.Amt
	}
	if amt == nil {
		return decimal.Zero, "", ErrNoSettlementAmount
	}

	value, err := decimal.NewFromString(strings.TrimSpace(amt.Value))
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("parse IntrBkSttlmAmt %q: %w", amt.Value, err)
	}
	return value, amt.Ccy, nil
}

// Transfer is the business content of a pacs.008 or pacs.009 template that
// legacy MT rendering needs
type Transfer struct {
	MessageType     string
	MsgID           string
	EndToEndID      string
	UETR            string
	SettlementDate  string
	InstructingBIC  string
	InstructedBIC   string
	DebtorName      string
	DebtorAgentBIC  string
	CreditorName    string
	CreditorAgent   string
	CreditorAccount string
	Remittance      string
}

// ParseTransfer decodes a pacs.008 or pacs.009 template. For pacs.009 COV the
// customer parties come from the underlying customer credit transfer.
func ParseTransfer(template string) (*Transfer, error) {
	var env struct {
		Customer    *FIToFICstmrCdtTrf `xml:"FIToFICstmrCdtTrf"`
		Institution *FICdtTrf          `xml:"FICdtTrf"`
	}
	if err := xml.Unmarshal([]byte(template), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}

	var (
		hdr GroupHeader
		tx  CreditTransferTxInfo
		t   = &Transfer{}
	)
	switch {
	case env.Customer != nil:
		t.MessageType = MessageTypePacs008
		hdr, tx = env.Customer.GrpHdr, env.Customer.CdtTrfTxInf
	case env.Institution != nil:
		t.MessageType = MessageTypePacs009
		hdr, tx = env.Institution.GrpHdr, env.Institution.CdtTrfTxInf
	default:
		return nil, fmt.Errorf("%w: not a credit transfer", ErrElementMismatch)
	}

	t.MsgID = hdr.MsgId
	t.EndToEndID = tx.PmtId.EndToEndId
	t.UETR = tx.PmtId.UETR
	t.SettlementDate = tx.IntrBkSttlmDt
	t.InstructingBIC = agentBIC(tx.InstgAgt)
	t.InstructedBIC = agentBIC(tx.InstdAgt)
	t.DebtorName = tx.Dbtr.Nm
	t.DebtorAgentBIC = agentBIC(tx.DbtrAgt)
	t.CreditorName = tx.Cdtr.Nm
	t.CreditorAgent = agentBIC(tx.CdtrAgt)
	if tx.RmtInf != nil {
		t.Remittance = tx.RmtInf.Ustrd
	}
	if tx.CdtrAcct != nil {
		t.CreditorAccount = tx.CdtrAcct.Id.IBAN
		if t.CreditorAccount == "" && tx.CdtrAcct.Id.Othr != nil {
			t.CreditorAccount = tx.CdtrAcct.Id.Othr.Id
		}
	}

	if u := tx.UndrlygCstmrCdtTrf; u != nil {
		t.DebtorName = u.Dbtr.Nm
		t.CreditorName = u.Cdtr.Nm
		if bic := agentBIC(u.DbtrAgt); bic != "" {
			t.DebtorAgentBIC = bic
		}
		if bic := agentBIC(u.CdtrAgt); bic != "" {
			t.CreditorAgent = bic
		}
	}
	return t, nil
}

func agentBIC(a *Agent) string {
	if a == nil {
		return ""
	}
	return a.FinInstnId.BICFI
}
