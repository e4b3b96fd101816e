package iso20022

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/deltran/corridorsim/internal/types"
	"github.com/shopspring/decimal"
)

var bicRegex = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)

// Validator checks the structure of the pacs messages shown at each corridor step
type Validator struct {
	supportedCurrencies map[string]bool
	maxAmounts          map[string]decimal.Decimal
	strictMode          bool
}

// NewValidator creates a new ISO 20022 validator
func NewValidator(supportedCurrencies []string, strictMode bool) *Validator {
	currencyMap := make(map[string]bool)
	for _, ccy := range supportedCurrencies {
		currencyMap[ccy] = true
	}

	return &Validator{
		supportedCurrencies: currencyMap,
		maxAmounts:          types.AmountLimits(),
		strictMode:          strictMode,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Code      string `json:"code"`
	Severity  string `json:"severity"` // ERROR, WARNING
	FieldPath string `json:"field_path"`
	Message   string `json:"message"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// AddError adds an error to the validation result
func (r *ValidationResult) AddError(code, fieldPath, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{
		Code:      code,
		Severity:  "ERROR",
		FieldPath: fieldPath,
		Message:   message,
	})
}

// AddWarning adds a warning to the validation result
func (r *ValidationResult) AddWarning(code, fieldPath, message string) {
	r.Warnings = append(r.Warnings, ValidationError{
		Code:      code,
		Severity:  "WARNING",
		FieldPath: fieldPath,
		Message:   message,
	})
}

// HasError reports whether an error with the given code was recorded
func (r *ValidationResult) HasError(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Pacs008Document is the pacs.008 customer credit transfer (subset)
type Pacs008Document struct {
	XMLName           xml.Name          `xml:"Document"`
	FIToFICstmrCdtTrf FIToFICstmrCdtTrf `xml:"FIToFICstmrCdtTrf"`
}

// FIToFICstmrCdtTrf is the business element of pacs.008
type FIToFICstmrCdtTrf struct {
	GrpHdr      GroupHeader          `xml:"GrpHdr"`
	CdtTrfTxInf CreditTransferTxInfo `xml:"CdtTrfTxInf"`
}

// Pacs009Document is the pacs.009 financial institution credit transfer (subset)
type Pacs009Document struct {
	XMLName  xml.Name `xml:"Document"`
	FICdtTrf FICdtTrf `xml:"FICdtTrf"`
}

// FICdtTrf is the business element of pacs.009
type FICdtTrf struct {
	GrpHdr      GroupHeader          `xml:"GrpHdr"`
	CdtTrfTxInf CreditTransferTxInfo `xml:"CdtTrfTxInf"`
}

// GroupHeader represents group header information
type GroupHeader struct {
	MsgId             string        `xml:"MsgId"`
	CreDtTm           string        `xml:"CreDtTm"`
	NbOfTxs           string        `xml:"NbOfTxs"`
	TtlIntrBkSttlmAmt *ActiveAmount `xml:"TtlIntrBkSttlmAmt,omitempty"`
	SttlmInf          *SttlmInf     `xml:"SttlmInf,omitempty"`
}

// SttlmInf represents settlement information
type SttlmInf struct {
	SttlmMtd string `xml:"SttlmMtd"`
}

// CreditTransferTxInfo is shared by pacs.008 and pacs.009; party fields
// hold a name for customers and a FinInstnId for institutions.
type CreditTransferTxInfo struct {
	PmtId              PaymentIdentification `xml:"PmtId"`
	IntrBkSttlmAmt     ActiveAmount          `xml:"IntrBkSttlmAmt"`
	IntrBkSttlmDt      string                `xml:"IntrBkSttlmDt,omitempty"`
	InstdAmt           *ActiveAmount         `xml:"InstdAmt,omitempty"`
	XchgRate           string                `xml:"XchgRate,omitempty"`
	ChrgBr             string                `xml:"ChrgBr,omitempty"`
	ChrgsInf           []ChargesInfo         `xml:"ChrgsInf"`
	InstgAgt           *Agent                `xml:"InstgAgt,omitempty"`
	InstdAgt           *Agent                `xml:"InstdAgt,omitempty"`
	Dbtr               PartyIdentification   `xml:"Dbtr"`
	DbtrAgt            *Agent                `xml:"DbtrAgt,omitempty"`
	CdtrAgt            *Agent                `xml:"CdtrAgt,omitempty"`
	Cdtr               PartyIdentification   `xml:"Cdtr"`
	CdtrAcct           *CashAccount          `xml:"CdtrAcct,omitempty"`
	RmtInf             *RemittanceInfo       `xml:"RmtInf,omitempty"`
	UndrlygCstmrCdtTrf *UnderlyingCustomer   `xml:"UndrlygCstmrCdtTrf,omitempty"`
}

// PaymentIdentification represents payment identification
type PaymentIdentification struct {
	InstrId    string `xml:"InstrId,omitempty"`
	EndToEndId string `xml:"EndToEndId"`
	TxId       string `xml:"TxId,omitempty"`
	UETR       string `xml:"UETR,omitempty"`
}

// ActiveAmount represents an amount with currency
type ActiveAmount struct {
	Ccy   string `xml:"Ccy,attr"`
	Value string `xml:",chardata"`
}

// ChargesInfo is one agent's deduction
type ChargesInfo struct {
	Amt ActiveAmount `xml:"Amt"`
	Agt *Agent       `xml:"Agt,omitempty"`
}

// Agent wraps a financial institution identification
type Agent struct {
	FinInstnId FinInstnId `xml:"FinInstnId"`
}

// FinInstnId holds the BIC of an institution
type FinInstnId struct {
	BICFI string `xml:"BICFI"`
}

// PartyIdentification represents party information
type PartyIdentification struct {
	Nm         string         `xml:"Nm,omitempty"`
	PstlAdr    *PostalAddress `xml:"PstlAdr,omitempty"`
	FinInstnId *FinInstnId    `xml:"FinInstnId,omitempty"`
}

// UnderlyingCustomer is the customer transfer a pacs.009 COV covers
type UnderlyingCustomer struct {
	Dbtr     PartyIdentification `xml:"Dbtr"`
	DbtrAgt  *Agent              `xml:"DbtrAgt,omitempty"`
	CdtrAgt  *Agent              `xml:"CdtrAgt,omitempty"`
	Cdtr     PartyIdentification `xml:"Cdtr"`
	InstdAmt *ActiveAmount       `xml:"InstdAmt,omitempty"`
}

// CashAccount represents account information
type CashAccount struct {
	Id AccountIdentification `xml:"Id"`
}

// AccountIdentification represents account ID (IBAN or other)
type AccountIdentification struct {
	IBAN string          `xml:"IBAN,omitempty"`
	Othr *OtherAccountId `xml:"Othr,omitempty"`
}

// OtherAccountId represents other account identification
type OtherAccountId struct {
	Id string `xml:"Id"`
}

// PostalAddress represents postal address
type PostalAddress struct {
	Ctry string `xml:"Ctry,omitempty"`
}

// RemittanceInfo represents remittance information
type RemittanceInfo struct {
	Ustrd string `xml:"Ustrd,omitempty"`
}

// ValidatePacs008 validates a pacs.008 message
func (v *Validator) ValidatePacs008(xmlData []byte) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}

	var doc Pacs008Document
	if err := xml.Unmarshal(xmlData, &doc); err != nil {
		result.AddError("XML_PARSE", "root", fmt.Sprintf("XML parsing failed: %v", err))
		return result, nil
	}

	tx := &doc.FIToFICstmrCdtTrf.CdtTrfTxInf
	v.validateGroupHeader(&doc.FIToFICstmrCdtTrf.GrpHdr, result)
	v.validateTransaction(tx, "CdtTrfTxInf", result)
	v.validateCustomer(&tx.Dbtr, "CdtTrfTxInf/Dbtr", "Debtor", result)
	v.validateCustomer(&tx.Cdtr, "CdtTrfTxInf/Cdtr", "Creditor", result)
	if tx.CdtrAcct != nil {
		v.validateAccount(tx.CdtrAcct, "CdtTrfTxInf/CdtrAcct", result)
	}

	v.applyStrictMode(result)
	return result, nil
}

// ValidatePacs009 validates a pacs.009 (COV) message
func (v *Validator) ValidatePacs009(xmlData []byte) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}

	var doc Pacs009Document
	if err := xml.Unmarshal(xmlData, &doc); err != nil {
		result.AddError("XML_PARSE", "root", fmt.Sprintf("XML parsing failed: %v", err))
		return result, nil
	}

	tx := &doc.FICdtTrf.CdtTrfTxInf
	v.validateGroupHeader(&doc.FICdtTrf.GrpHdr, result)
	v.validateTransaction(tx, "CdtTrfTxInf", result)
	v.validateInstitution(&tx.Dbtr, "CdtTrfTxInf/Dbtr", "Debtor", result)
	v.validateInstitution(&tx.Cdtr, "CdtTrfTxInf/Cdtr", "Creditor", result)

	if tx.UndrlygCstmrCdtTrf == nil {
		result.AddWarning("MISSING_ELEMENT", "CdtTrfTxInf/UndrlygCstmrCdtTrf",
			"Cover message without underlying customer credit transfer")
	} else if tx.UndrlygCstmrCdtTrf.InstdAmt != nil {
		v.validateAmount(tx.UndrlygCstmrCdtTrf.InstdAmt, "CdtTrfTxInf/UndrlygCstmrCdtTrf/InstdAmt", result)
	}

	v.applyStrictMode(result)
	return result, nil
}

// Validate dispatches on the step message type. Status reports are only
// checked for well-formedness.
func (v *Validator) Validate(messageType string, xmlData []byte) (*ValidationResult, error) {
	switch messageType {
	case MessageTypePacs008:
		return v.ValidatePacs008(xmlData)
	case MessageTypePacs009:
		return v.ValidatePacs009(xmlData)
	case MessageTypePacs002:
		result := &ValidationResult{Valid: true}
		if err := CheckTemplate(messageType, string(xmlData)); err != nil {
			result.AddError("XML_PARSE", "root", err.Error())
		}
		return result, nil
	}
	return nil, fmt.Errorf("unsupported message type %q", messageType)
}

func (v *Validator) applyStrictMode(result *ValidationResult) {
	if v.strictMode && len(result.Warnings) > 0 {
		for _, w := range result.Warnings {
			result.AddError(w.Code, w.FieldPath, w.Message)
		}
		result.Warnings = nil
	}
}

// validateGroupHeader validates the group header
func (v *Validator) validateGroupHeader(hdr *GroupHeader, result *ValidationResult) {
	if hdr.MsgId == "" {
		result.AddError("MISSING_FIELD", "GrpHdr/MsgId", "MsgId is mandatory")
	} else if len(hdr.MsgId) > 35 {
		result.AddError("INVALID_LENGTH", "GrpHdr/MsgId", fmt.Sprintf("MsgId must be ≤35 characters, got %d", len(hdr.MsgId)))
	}

	if hdr.CreDtTm == "" {
		result.AddError("MISSING_FIELD", "GrpHdr/CreDtTm", "CreDtTm is mandatory")
	} else if _, err := time.Parse(time.RFC3339, hdr.CreDtTm); err != nil {
		if _, err2 := time.Parse("2006-01-02T15:04:05", hdr.CreDtTm); err2 != nil {
			result.AddError("INVALID_FORMAT", "GrpHdr/CreDtTm", fmt.Sprintf("CreDtTm must be ISO 8601 format: %v", err))
		}
	}

	if hdr.NbOfTxs == "" {
		result.AddError("MISSING_FIELD", "GrpHdr/NbOfTxs", "NbOfTxs is mandatory")
	} else {
		var nbTxs int
		if _, err := fmt.Sscanf(hdr.NbOfTxs, "%d", &nbTxs); err != nil {
			result.AddError("INVALID_FORMAT", "GrpHdr/NbOfTxs", fmt.Sprintf("NbOfTxs must be numeric: %v", err))
		} else if nbTxs <= 0 {
			result.AddError("INVALID_VALUE", "GrpHdr/NbOfTxs", "NbOfTxs must be greater than 0")
		}
	}

	if hdr.TtlIntrBkSttlmAmt != nil {
		v.validateAmount(hdr.TtlIntrBkSttlmAmt, "GrpHdr/TtlIntrBkSttlmAmt", result)
	}

	// Correspondent chains settle through accounts (INDA/INGA) or a clearing system
	if hdr.SttlmInf != nil && hdr.SttlmInf.SttlmMtd != "" {
		switch hdr.SttlmInf.SttlmMtd {
		case "CLRG", "INDA", "INGA", "COVE":
		default:
			result.AddWarning("UNSUPPORTED_STTLM_MTD", "GrpHdr/SttlmInf/SttlmMtd",
				fmt.Sprintf("Settlement method '%s' may not be supported", hdr.SttlmInf.SttlmMtd))
		}
	}
}

// validateTransaction checks the fields common to both credit transfers
func (v *Validator) validateTransaction(tx *CreditTransferTxInfo, path string, result *ValidationResult) {
	if tx.PmtId.EndToEndId == "" {
		result.AddError("MISSING_FIELD", path+"/PmtId/EndToEndId", "EndToEndId is mandatory")
	} else if len(tx.PmtId.EndToEndId) > 35 {
		result.AddError("INVALID_LENGTH", path+"/PmtId/EndToEndId",
			fmt.Sprintf("EndToEndId must be ≤35 characters, got %d", len(tx.PmtId.EndToEndId)))
	}

	if tx.PmtId.UETR == "" {
		result.AddWarning("MISSING_FIELD", path+"/PmtId/UETR", "UETR is expected on cross-border payments")
	}

	v.validateAmount(&tx.IntrBkSttlmAmt, path+"/IntrBkSttlmAmt", result)

	if tx.InstdAmt != nil {
		v.validateAmount(tx.InstdAmt, path+"/InstdAmt", result)
	}

	if tx.XchgRate != "" {
		rate, err := decimal.NewFromString(tx.XchgRate)
		if err != nil || !rate.IsPositive() {
			result.AddError("INVALID_VALUE", path+"/XchgRate", fmt.Sprintf("Exchange rate must be a positive decimal, got: %s", tx.XchgRate))
		}
	}

	if tx.ChrgBr != "" {
		switch tx.ChrgBr {
		case "SHAR", "DEBT", "CRED", "SLEV":
		default:
			result.AddError("INVALID_VALUE", path+"/ChrgBr", fmt.Sprintf("Unknown charge bearer code: %s", tx.ChrgBr))
		}
	}

	for i, chrg := range tx.ChrgsInf {
		v.validateAmount(&chrg.Amt, fmt.Sprintf("%s/ChrgsInf[%d]/Amt", path, i), result)
	}

	v.validateAgent(tx.InstgAgt, path+"/InstgAgt", result)
	v.validateAgent(tx.InstdAgt, path+"/InstdAgt", result)
	v.validateAgent(tx.DbtrAgt, path+"/DbtrAgt", result)
	v.validateAgent(tx.CdtrAgt, path+"/CdtrAgt", result)
}

// validateAmount validates an amount field
func (v *Validator) validateAmount(amt *ActiveAmount, path string, result *ValidationResult) {
	if amt.Ccy == "" {
		result.AddError("MISSING_ATTRIBUTE", path+"@Ccy", "Currency code is mandatory")
		return
	}

	if len(amt.Ccy) != 3 || !isUpperAlpha(amt.Ccy) {
		result.AddError("INVALID_FORMAT", path+"@Ccy", fmt.Sprintf("Currency must be 3 uppercase letters (ISO 4217), got: %s", amt.Ccy))
		return
	}

	if !v.supportedCurrencies[amt.Ccy] {
		result.AddWarning("UNSUPPORTED_CURRENCY", path+"@Ccy", fmt.Sprintf("Currency '%s' is not in supported list", amt.Ccy))
	}

	value := strings.TrimSpace(amt.Value)
	if value == "" {
		result.AddError("MISSING_VALUE", path, "Amount value is mandatory")
		return
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		result.AddError("INVALID_FORMAT", path, fmt.Sprintf("Invalid decimal format: %s", value))
		return
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		result.AddError("INVALID_VALUE", path, "Amount must be greater than zero")
		return
	}

	if maxAmt, ok := v.maxAmounts[amt.Ccy]; ok && amount.GreaterThan(maxAmt) {
		result.AddError("AMOUNT_EXCEEDS_LIMIT", path,
			fmt.Sprintf("Amount %s exceeds limit %s for %s", amount.String(), maxAmt.String(), amt.Ccy))
	}

	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		decimals := int32(len(value) - idx - 1)
		if maxDecimals := types.MinorUnits(amt.Ccy); decimals > maxDecimals {
			result.AddError("INVALID_PRECISION", path,
				fmt.Sprintf("Amount has %d decimal places, max %d for %s", decimals, maxDecimals, amt.Ccy))
		}
	}
}

// validateCustomer checks a pacs.008 debtor or creditor
func (v *Validator) validateCustomer(party *PartyIdentification, path, partyType string, result *ValidationResult) {
	if party.Nm == "" {
		result.AddWarning("MISSING_FIELD", path+"/Nm", fmt.Sprintf("%s name is recommended", partyType))
	} else if len(party.Nm) > 140 {
		result.AddError("INVALID_LENGTH", path+"/Nm", fmt.Sprintf("%s name must be ≤140 characters", partyType))
	}

	if party.PstlAdr != nil && party.PstlAdr.Ctry != "" {
		if len(party.PstlAdr.Ctry) != 2 || !isUpperAlpha(party.PstlAdr.Ctry) {
			result.AddError("INVALID_FORMAT", path+"/PstlAdr/Ctry",
				fmt.Sprintf("Country code must be 2 uppercase letters (ISO 3166), got: %s", party.PstlAdr.Ctry))
		}
	}
}

// validateInstitution checks a pacs.009 debtor or creditor, which are banks
func (v *Validator) validateInstitution(party *PartyIdentification, path, partyType string, result *ValidationResult) {
	if party.FinInstnId == nil {
		result.AddError("MISSING_ELEMENT", path+"/FinInstnId", fmt.Sprintf("%s FinInstnId is mandatory", partyType))
		return
	}

	if party.FinInstnId.BICFI == "" {
		result.AddError("MISSING_FIELD", path+"/FinInstnId/BICFI", fmt.Sprintf("%s BIC is mandatory", partyType))
		return
	}

	if !IsValidBIC(party.FinInstnId.BICFI) {
		result.AddError("INVALID_BIC", path+"/FinInstnId/BICFI",
			fmt.Sprintf("Invalid BIC format: %s", party.FinInstnId.BICFI))
	}
}

func (v *Validator) validateAgent(agt *Agent, path string, result *ValidationResult) {
	if agt == nil || agt.FinInstnId.BICFI == "" {
		return
	}
	if !IsValidBIC(agt.FinInstnId.BICFI) {
		result.AddError("INVALID_BIC", path+"/FinInstnId/BICFI",
			fmt.Sprintf("Invalid BIC format: %s", agt.FinInstnId.BICFI))
	}
}

// validateAccount validates account information
func (v *Validator) validateAccount(acct *CashAccount, path string, result *ValidationResult) {
	if acct.Id.IBAN == "" && (acct.Id.Othr == nil || acct.Id.Othr.Id == "") {
		result.AddError("MISSING_FIELD", path+"/Id", "Account identification (IBAN or Other) is mandatory")
		return
	}

	if acct.Id.IBAN != "" && !IsValidIBAN(acct.Id.IBAN) {
		result.AddError("INVALID_IBAN", path+"/Id/IBAN", fmt.Sprintf("Invalid IBAN format: %s", acct.Id.IBAN))
	}

	if acct.Id.Othr != nil && len(acct.Id.Othr.Id) > 34 {
		result.AddError("INVALID_LENGTH", path+"/Id/Othr/Id", "Account ID must be ≤34 characters")
	}
}

// IsValidBIC validates BIC format: 4 letters institution, 2 letters country,
// 2 alphanumeric location, optional 3 alphanumeric branch
func IsValidBIC(bic string) bool {
	bic = strings.ToUpper(bic)
	if len(bic) != 8 && len(bic) != 11 {
		return false
	}
	return bicRegex.MatchString(bic)
}

// IsValidIBAN validates IBAN format (basic check)
func IsValidIBAN(iban string) bool {
	iban = strings.ToUpper(strings.ReplaceAll(iban, " ", ""))

	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	if !isUpperAlpha(iban[0:2]) || !isDigits(iban[2:4]) {
		return false
	}
	return isAlphanumeric(iban[4:])
}

func isUpperAlpha(s string) bool {
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isAlphanumeric(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}
