package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/deltran/corridorsim/internal/audit"
	"github.com/deltran/corridorsim/internal/integration"
	"github.com/deltran/corridorsim/internal/simulation"
	"github.com/deltran/corridorsim/internal/swift"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runList(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCURRENCIES\tDEFAULT\tSERIAL\tCOVER")
	for _, c := range e.registry.List() {
		fmt.Fprintf(w, "%s\t%s\t%s -> %s\t%s %s\t%d\t%d\n",
			c.ID, c.Name, c.SourceCurrency, c.TargetCurrency,
			types.FormatAmount(c.DefaultAmount, c.SourceCurrency), c.SourceCurrency,
			len(c.SerialSteps), len(c.CoverSteps))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	c, err := e.registry.Get(args[0])
	if err != nil {
		return err
	}
	method, amount, bearer, err := selection(cmd, c)
	if err != nil {
		return err
	}
	steps, err := c.Steps(method)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s -> %s %s (%s)\n", c.SenderFlag, c.SenderCountry, c.ReceiverFlag, c.ReceiverCountry, c.Name)
	fmt.Fprintf(out, "Headline: rate %s, spread %s%%, cost %s%%, settles in %s\n\n",
		c.FXRate, c.FXSpread, c.TotalCostPct, c.SettlementTime)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tBANK\tBIC\tCOUNTRY\tROLE")
	for i, b := range c.Banks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i, b.Name, b.BIC, b.Country, b.Role)
	}
	w.Flush()

	fmt.Fprintf(out, "\n%s settlement, %d steps\n", method, len(steps))
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tFROM\tTO\tDIR\tMESSAGE\tDURATION\tDESCRIPTION")
	for _, s := range steps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, bankName(c, s.From), bankName(c, s.To), s.Direction, s.MessageType, s.Duration, s.Description)
	}
	w.Flush()

	if mt, _ := cmd.Flags().GetBool("mt"); mt {
		result, err := simulation.SimulateCorridor(c, method, amount, bearer)
		if err != nil {
			return err
		}
		return printMT(out, e.logger, c, result, bearer)
	}
	return nil
}

// printMT renders every forward transfer and reads each one back, so that a
// rendering defect shows up here rather than at the receiving end
func printMT(out io.Writer, logger *zap.Logger, c *types.Corridor, result *simulation.Result, bearer types.ChargeBearer) error {
	rendered, err := swift.NewGenerator("0001").RenderAll(c, result.Steps, bearer)
	if err != nil {
		return err
	}
	parser := swift.NewParser(true)
	for _, r := range rendered {
		if _, err := parser.Parse(r.Text); err != nil {
			return fmt.Errorf("step %d %s does not parse back: %w", r.StepID, r.Name(), err)
		}
		logger.Debug("MT rendered", zap.Int("step", r.StepID), zap.String("type", r.Name()))
		fmt.Fprintf(out, "\n-- step %d: %s --\n%s\n", r.StepID, r.Name(), r.Text)
	}
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	c, err := e.registry.Get(args[0])
	if err != nil {
		return err
	}
	method, amount, bearer, err := selection(cmd, c)
	if err != nil {
		return err
	}
	result, err := simulation.SimulateCorridor(c, method, amount, bearer)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "STEP\tFROM\tTO\tBEFORE\tFEE\tRATE\tAFTER\t")
	for _, d := range result.Steps {
		fee, rate := "", ""
		if d.FeeApplied.IsPositive() {
			fee = types.FormatAmount(d.FeeApplied, d.CurrencyBefore) + " " + d.CurrencyBefore
		}
		if d.FXApplied {
			rate = d.Step.FXRate.String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s %s\t%s\t%s\t%s %s\t\n",
			d.Step.ID, bankName(c, d.Step.From), bankName(c, d.Step.To),
			types.FormatAmount(d.AmountBefore, d.CurrencyBefore), d.CurrencyBefore,
			fee, rate,
			types.FormatAmount(d.AmountAfter, d.RunningCurrency), d.RunningCurrency)
	}
	w.Flush()

	fmt.Fprintln(out)
	printSummary(out, result.Summary)
	return nil
}

func printSummary(out io.Writer, s simulation.Summary) {
	fees := make([]string, 0, len(s.TotalFees))
	for _, f := range s.TotalFees {
		fees = append(fees, types.FormatAmount(f.Amount, f.Currency)+" "+f.Currency)
	}
	if len(fees) == 0 {
		fees = append(fees, "none")
	}
	fmt.Fprintf(out, "Charges %s\n", s.Policy)
	fmt.Fprintf(out, "  Sender pays:        %s %s\n", types.FormatAmount(s.SenderOutlay, s.SourceCurrency), s.SourceCurrency)
	fmt.Fprintf(out, "  Beneficiary gets:   %s %s\n", types.FormatAmount(s.Received, s.TargetCurrency), s.TargetCurrency)
	fmt.Fprintf(out, "  Fees:               %s\n", strings.Join(fees, ", "))
	fmt.Fprintf(out, "  Effective rate:     %s\n", s.EffectiveRate)
	fmt.Fprintf(out, "  Cost:               %s%%\n", s.CostPct)
}

func runCompare(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	c, err := e.registry.Get(args[0])
	if err != nil {
		return err
	}
	method, amount, _, err := selection(cmd, c)
	if err != nil {
		return err
	}
	steps, err := c.Steps(method)
	if err != nil {
		return err
	}
	summaries, err := simulation.CompareBearers(steps, amount, c.SourceCurrency)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "BEARER\tSENDER PAYS\tBENEFICIARY GETS\tRATE\tCOST %\t")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s %s\t%s %s\t%s\t%s\t\n", s.Policy,
			types.FormatAmount(s.SenderOutlay, s.SourceCurrency), s.SourceCurrency,
			types.FormatAmount(s.Received, s.TargetCurrency), s.TargetCurrency,
			s.EffectiveRate, s.CostPct)
	}
	return w.Flush()
}

func runAudit(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	checker := integration.NewHealthChecker(e.registry, nil, nil, e.logger)
	result, err := checker.ValidateTemplates(cmd.Context(), args...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range result.Reports {
		status := "ok"
		if !r.Matched {
			status = "MISMATCH"
		}
		fmt.Fprintf(out, "%-10s %-7s %d transfers  %s\n", r.CorridorID, r.Method, len(r.Lines), status)
		for _, l := range r.Mismatches() {
			if l.Error != "" {
				fmt.Fprintf(out, "  step %d: %s\n", l.StepID, l.Error)
				continue
			}
			fmt.Fprintf(out, "  step %d: authored %s %s, simulated %s %s\n",
				l.StepID, l.Authored, l.AuthoredCcy, l.Simulated, l.SimulatedCcy)
		}
	}
	for _, issue := range result.Issues {
		for _, ve := range issue.Errors {
			fmt.Fprintf(out, "%s/%s step %d: %s %s: %s\n",
				issue.CorridorID, issue.Method, issue.StepID, ve.Code, ve.FieldPath, ve.Message)
		}
	}

	if name, _ := cmd.Flags().GetString("format"); name != "" {
		format, err := audit.ParseFormat(name)
		if err != nil {
			return err
		}
		resp, err := audit.NewExporter(e.cfg.Export.Dir).Export(cmd.Context(), format, audit.ReconciliationReport(result.Reports...))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s (%d lines)\n", resp.FilePath, resp.RecordCount)
	}

	if !result.Clean() {
		return integration.ErrTemplatesDiverged
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	c, err := e.registry.Get(args[0])
	if err != nil {
		return err
	}
	method, amount, bearer, err := selection(cmd, c)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("format")
	format, err := audit.ParseFormat(name)
	if err != nil {
		return err
	}

	var rep *audit.Report
	if cmp, _ := cmd.Flags().GetBool("compare"); cmp {
		steps, err := c.Steps(method)
		if err != nil {
			return err
		}
		summaries, err := simulation.CompareBearers(steps, amount, c.SourceCurrency)
		if err != nil {
			return err
		}
		rep = audit.ComparisonReport(c.ID, method, summaries)
	} else {
		result, err := simulation.SimulateCorridor(c, method, amount, bearer)
		if err != nil {
			return err
		}
		rep = audit.SimulationReport(c, result)
	}

	resp, err := audit.NewExporter(e.cfg.Export.Dir).Export(cmd.Context(), format, rep)
	if err != nil {
		return err
	}
	e.logger.Info("Export written",
		zap.String("file", resp.FilePath),
		zap.String("reference", resp.Reference),
		zap.Int("records", resp.RecordCount),
	)
	fmt.Fprintln(cmd.OutOrStdout(), resp.FilePath)
	return nil
}

func bankName(c *types.Corridor, i int) string {
	b, err := c.Bank(i)
	if err != nil {
		return fmt.Sprint(i)
	}
	return b.Name
}
