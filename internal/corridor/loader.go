package corridor

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/deltran/corridorsim/internal/types"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed data/corridors.yaml
var embeddedCatalog []byte

// catalogFile mirrors data/corridors.yaml. Amounts stay strings until
// conversion so that no value passes through a float.
type catalogFile struct {
	Corridors []corridorYAML `yaml:"corridors"`
}

type corridorYAML struct {
	ID              string     `yaml:"id"`
	Name            string     `yaml:"name"`
	SenderCountry   string     `yaml:"senderCountry"`
	SenderFlag      string     `yaml:"senderFlag"`
	ReceiverCountry string     `yaml:"receiverCountry"`
	ReceiverFlag    string     `yaml:"receiverFlag"`
	SourceCurrency  string     `yaml:"sourceCurrency"`
	TargetCurrency  string     `yaml:"targetCurrency"`
	DefaultAmount   string     `yaml:"defaultAmount"`
	FXRate          string     `yaml:"fxRate"`
	FXSpread        string     `yaml:"fxSpread"`
	TotalCostPct    string     `yaml:"totalCostPct"`
	SettlementTime  string     `yaml:"settlementTime"`
	Banks           []bankYAML `yaml:"banks"`
	SerialSteps     []stepYAML `yaml:"serialSteps"`
	CoverSteps      []stepYAML `yaml:"coverSteps"`
}

type bankYAML struct {
	Name        string `yaml:"name"`
	BIC         string `yaml:"bic"`
	Country     string `yaml:"country"`
	CountryCode string `yaml:"countryCode"`
	Role        string `yaml:"role"`
}

type stepYAML struct {
	ID              int    `yaml:"id"`
	From            int    `yaml:"from"`
	To              int    `yaml:"to"`
	Direction       string `yaml:"direction"`
	MessageType     string `yaml:"messageType"`
	MessageName     string `yaml:"messageName"`
	Description     string `yaml:"description"`
	Duration        string `yaml:"duration"`
	Fee             string `yaml:"fee"`
	FXRate          string `yaml:"fxRate"`
	FXFrom          string `yaml:"fxFrom"`
	FXTo            string `yaml:"fxTo"`
	NostroAction    string `yaml:"nostroAction"`
	Detail          string `yaml:"detail"`
	MessageTemplate string `yaml:"messageTemplate"`
}

// Decode parses a corridor catalog document. It does not validate topology.
func Decode(data []byte) ([]types.Corridor, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, types.WrapError(types.ErrorCodeConfiguration, "failed to parse corridor catalog", err)
	}

	var defects []string
	corridors := make([]types.Corridor, 0, len(file.Corridors))
	for i, raw := range file.Corridors {
		c, errs := raw.toCorridor()
		for _, e := range errs {
			defects = append(defects, fmt.Sprintf("corridor[%d] %s: %s", i, raw.ID, e))
		}
		corridors = append(corridors, c)
	}

	if len(defects) > 0 {
		return nil, types.NewError(types.ErrorCodeConfiguration, "invalid corridor catalog", strings.Join(defects, "; "))
	}
	return corridors, nil
}

// ReadFile reads and decodes a catalog from disk
func ReadFile(path string) ([]types.Corridor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.ErrorCodeConfiguration, "failed to read corridor catalog", err)
	}
	return Decode(data)
}

func (r corridorYAML) toCorridor() (types.Corridor, []string) {
	var errs []string
	amount := func(field, value string, required bool) decimal.Decimal {
		if value == "" {
			if required {
				errs = append(errs, field+" is required")
			}
			return decimal.Zero
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid decimal %q", field, value))
		}
		return d
	}

	c := types.Corridor{
		ID:              r.ID,
		Name:            r.Name,
		SenderCountry:   r.SenderCountry,
		SenderFlag:      r.SenderFlag,
		ReceiverCountry: r.ReceiverCountry,
		ReceiverFlag:    r.ReceiverFlag,
		SourceCurrency:  r.SourceCurrency,
		TargetCurrency:  r.TargetCurrency,
		DefaultAmount:   amount("defaultAmount", r.DefaultAmount, true),
		FXRate:          amount("fxRate", r.FXRate, false),
		FXSpread:        amount("fxSpread", r.FXSpread, false),
		TotalCostPct:    amount("totalCostPct", r.TotalCostPct, false),
		SettlementTime:  r.SettlementTime,
	}

	for _, b := range r.Banks {
		c.Banks = append(c.Banks, types.Bank{
			Name:        b.Name,
			BIC:         b.BIC,
			Country:     b.Country,
			CountryCode: b.CountryCode,
			Role:        types.Role(b.Role),
		})
	}

	var stepErrs []string
	c.SerialSteps, stepErrs = convertSteps("serialSteps", r.SerialSteps)
	errs = append(errs, stepErrs...)
	c.CoverSteps, stepErrs = convertSteps("coverSteps", r.CoverSteps)
	errs = append(errs, stepErrs...)

	return c, errs
}

func convertSteps(field string, raw []stepYAML) ([]types.Step, []string) {
	var errs []string
	optional := func(at, value string) *decimal.Decimal {
		if value == "" {
			return nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid decimal %q", at, value))
			return nil
		}
		return &d
	}

	steps := make([]types.Step, 0, len(raw))
	for i, s := range raw {
		at := fmt.Sprintf("%s[%d]", field, i)
		steps = append(steps, types.Step{
			ID:              s.ID,
			From:            s.From,
			To:              s.To,
			Direction:       types.Direction(s.Direction),
			MessageType:     s.MessageType,
			MessageName:     s.MessageName,
			Description:     s.Description,
			Duration:        s.Duration,
			Fee:             optional(at+".fee", s.Fee),
			FXRate:          optional(at+".fxRate", s.FXRate),
			FXFrom:          s.FXFrom,
			FXTo:            s.FXTo,
			NostroAction:    s.NostroAction,
			MessageTemplate: s.MessageTemplate,
			Detail:          s.Detail,
		})
	}
	return steps, errs
}
