// Package audit exports simulations, charge-bearer comparisons and template
// reconciliations as CSV, Excel or JSON files.
package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deltran/corridorsim/internal/iso20022"
	"github.com/deltran/corridorsim/internal/simulation"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/xuri/excelize/v2"
)

// ExportFormat represents the format for exports
type ExportFormat string

const (
	FormatCSV   ExportFormat = "csv"
	FormatExcel ExportFormat = "xlsx"
	FormatJSON  ExportFormat = "json"
)

// ParseFormat accepts csv, xlsx (or excel) and json
func ParseFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatExcel, nil
	case "json":
		return FormatJSON, nil
	}
	return "", types.NewError(types.ErrorCodeInvalidSelection, "unsupported export format", s)
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Table is one sheet of a report with a fixed column order
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// Report is a set of tables plus the structured value written for JSON
type Report struct {
	Type    string
	Subject string
	Tables  []Table
	Payload interface{}
}

// RecordCount is the number of rows in the primary table
func (r *Report) RecordCount() int {
	if len(r.Tables) == 0 {
		return 0
	}
	return len(r.Tables[0].Rows)
}

// ExportResponse contains the result of export operation
type ExportResponse struct {
	FilePath    string       `json:"file_path"`
	Format      ExportFormat `json:"format"`
	RecordCount int          `json:"record_count"`
	GeneratedAt time.Time    `json:"generated_at"`
	ReportType  string       `json:"report_type"`
	Reference   string       `json:"reference"`
}

// Exporter writes reports to files under a directory
type Exporter struct {
	dir string
	now func() time.Time
}

// NewExporter creates an exporter writing into dir ("" is the working directory)
func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir, now: time.Now}
}

// Export writes rep to a timestamped file
func (e *Exporter) Export(ctx context.Context, format ExportFormat, rep *Report) (*ExportResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.now()
	timestamp := now.Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s_%s.%s", rep.Type, rep.Subject, timestamp, format)
	filePath := filepath.Join(e.dir, filename)

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	if err := Write(file, format, rep); err != nil {
		file.Close()
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close export file: %w", err)
	}

	return &ExportResponse{
		FilePath:    filePath,
		Format:      format,
		RecordCount: rep.RecordCount(),
		GeneratedAt: now,
		ReportType:  rep.Type,
		Reference:   fmt.Sprintf("%s-%s-%s", strings.ToUpper(rep.Type), strings.ToUpper(rep.Subject), timestamp),
	}, nil
}

// Write renders rep in format to w. CSV carries the primary table only.
func Write(w io.Writer, format ExportFormat, rep *Report) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, rep)
	case FormatExcel:
		return writeExcel(w, rep)
	case FormatJSON:
		return writeJSON(w, rep)
	}
	return types.NewError(types.ErrorCodeInvalidSelection, "unsupported export format", string(format))
}

// SimulationReport tabulates the derived steps and the summary of a simulation
func SimulationReport(c *types.Corridor, result *simulation.Result) *Report {
	steps := Table{
		Name: "Steps",
		Headers: []string{
			"step_id", "direction", "message_type", "from_bank", "to_bank",
			"amount_before", "currency_before", "fee", "fx_rate",
			"amount_after", "currency", "duration", "nostro_action",
		},
	}
	for _, d := range result.Steps {
		fxRate := ""
		if d.FXApplied {
			fxRate = d.Step.FXRate.String()
		}
		steps.Rows = append(steps.Rows, []string{
			fmt.Sprint(d.Step.ID),
			string(d.Step.Direction),
			d.Step.MessageType,
			bankName(c, d.Step.From),
			bankName(c, d.Step.To),
			types.FormatAmount(d.AmountBefore, d.CurrencyBefore),
			d.CurrencyBefore,
			types.FormatAmount(d.FeeApplied, d.CurrencyBefore),
			fxRate,
			types.FormatAmount(d.AmountAfter, d.RunningCurrency),
			d.RunningCurrency,
			d.Step.Duration,
			d.Step.NostroAction,
		})
	}

	return &Report{
		Type:    "simulation",
		Subject: fmt.Sprintf("%s_%s_%s", result.CorridorID, result.Method, strings.ToLower(string(result.Summary.Policy))),
		Tables:  []Table{steps, summaryTable("Summary", []simulation.Summary{result.Summary})},
		Payload: result,
	}
}

// ComparisonReport tabulates one summary per charge bearer
func ComparisonReport(corridorID string, method types.SettlementMethod, summaries []simulation.Summary) *Report {
	return &Report{
		Type:    "comparison",
		Subject: fmt.Sprintf("%s_%s", corridorID, method),
		Tables:  []Table{summaryTable("Charge Bearers", summaries)},
		Payload: summaries,
	}
}

// ReconciliationReport tabulates template amounts against simulated amounts
func ReconciliationReport(reports ...*iso20022.ReconciliationReport) *Report {
	t := Table{
		Name: "Reconciliation",
		Headers: []string{
			"corridor_id", "method", "step_id", "message_type",
			"authored", "authored_ccy", "simulated", "simulated_ccy", "match", "error",
		},
	}
	subject := "catalog"
	if len(reports) == 1 {
		subject = reports[0].CorridorID + "_" + string(reports[0].Method)
	}
	for _, rep := range reports {
		for _, l := range rep.Lines {
			t.Rows = append(t.Rows, []string{
				rep.CorridorID,
				string(rep.Method),
				fmt.Sprint(l.StepID),
				l.MessageType,
				l.Authored.String(),
				l.AuthoredCcy,
				l.Simulated.String(),
				l.SimulatedCcy,
				fmt.Sprint(l.Match),
				l.Error,
			})
		}
	}
	return &Report{
		Type:    "reconciliation",
		Subject: subject,
		Tables:  []Table{t},
		Payload: reports,
	}
}

func summaryTable(name string, summaries []simulation.Summary) Table {
	t := Table{
		Name: name,
		Headers: []string{
			"policy", "principal", "source_currency", "target_currency",
			"total_fees", "total_fees_source", "total_fees_target",
			"sender_outlay", "received", "effective_rate", "cost_pct",
		},
	}
	for _, s := range summaries {
		fees := make([]string, 0, len(s.TotalFees))
		for _, f := range s.TotalFees {
			fees = append(fees, types.FormatAmount(f.Amount, f.Currency)+" "+f.Currency)
		}
		t.Rows = append(t.Rows, []string{
			string(s.Policy),
			types.FormatAmount(s.Principal, s.SourceCurrency),
			s.SourceCurrency,
			s.TargetCurrency,
			strings.Join(fees, "; "),
			types.FormatAmount(s.TotalFeesSource, s.SourceCurrency),
			types.FormatAmount(s.TotalFeesTarget, s.TargetCurrency),
			types.FormatAmount(s.SenderOutlay, s.SourceCurrency),
			types.FormatAmount(s.Received, s.TargetCurrency),
			s.EffectiveRate.String(),
			s.CostPct.String(),
		})
	}
	return t
}

func bankName(c *types.Corridor, i int) string {
	if c == nil {
		return fmt.Sprint(i)
	}
	b, err := c.Bank(i)
	if err != nil {
		return fmt.Sprint(i)
	}
	return b.Name
}

func writeCSV(w io.Writer, rep *Report) error {
	if len(rep.Tables) == 0 || len(rep.Tables[0].Rows) == 0 {
		return fmt.Errorf("no records to export")
	}
	t := rep.Tables[0]

	writer := csv.NewWriter(w)
	if err := writer.Write(t.Headers); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeExcel(w io.Writer, rep *Report) error {
	if rep.RecordCount() == 0 {
		return fmt.Errorf("no records to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, t := range rep.Tables {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", t.Name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(t.Name); err != nil {
			return err
		}

		for col, header := range t.Headers {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			f.SetCellValue(t.Name, cell, header)
		}
		for rowIdx, row := range t.Rows {
			for colIdx, value := range row {
				cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
				f.SetCellValue(t.Name, cell, value)
			}
		}
	}

	return f.Write(w)
}

func writeJSON(w io.Writer, rep *Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rep.Payload)
}
