package main

import (
	"fmt"
	"os"

	"github.com/deltran/corridorsim/internal/config"
	"github.com/deltran/corridorsim/internal/corridor"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:           "corridorsim",
		Short:         "Correspondent banking corridor simulator",
		Long:          "Walks a cross-border payment through its correspondent chain and shows fees, FX and ISO 20022 messages step by step",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List the corridors in the catalog",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	showCmd = &cobra.Command{
		Use:   "show <corridor-id>",
		Short: "Show a corridor's banks and step sequence",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}

	simulateCmd = &cobra.Command{
		Use:   "simulate <corridor-id>",
		Short: "Simulate an amount through a corridor",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulate,
	}

	compareCmd = &cobra.Command{
		Use:   "compare <corridor-id>",
		Short: "Compare SHA, OUR and BEN for one amount",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompare,
	}

	playCmd = &cobra.Command{
		Use:   "play <corridor-id>",
		Short: "Autoplay a corridor in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlay,
	}

	auditCmd = &cobra.Command{
		Use:   "audit [corridor-id...]",
		Short: "Reconcile message templates against simulated amounts",
		RunE:  runAudit,
	}

	exportCmd = &cobra.Command{
		Use:   "export <corridor-id>",
		Short: "Export a simulation or bearer comparison to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	rootCmd.AddCommand(listCmd, showCmd, simulateCmd, compareCmd, playCmd, auditCmd, exportCmd, serveCmd)

	// Flags
	rootCmd.PersistentFlags().String("config", "", "config file path")
	rootCmd.PersistentFlags().String("data-file", "", "corridor catalog file (default: embedded catalog)")
	rootCmd.PersistentFlags().Bool("debug", false, "development logging")

	for _, cmd := range []*cobra.Command{showCmd, simulateCmd, compareCmd, playCmd, exportCmd} {
		cmd.Flags().String("method", string(types.MethodSerial), "settlement method (serial or cover)")
	}
	for _, cmd := range []*cobra.Command{simulateCmd, compareCmd, playCmd, exportCmd} {
		cmd.Flags().String("amount", "", "principal in the source currency (default: corridor default)")
	}
	for _, cmd := range []*cobra.Command{simulateCmd, playCmd, exportCmd} {
		cmd.Flags().String("bearer", string(types.ChargeBearerShared), "charge bearer (SHA, OUR or BEN)")
	}

	showCmd.Flags().Bool("mt", false, "render forward transfers as MT103 / MT202 COV")
	simulateCmd.Flags().Bool("json", false, "print the result as JSON")
	playCmd.Flags().Duration("interval", 0, "autoplay interval (default: playback.interval)")
	auditCmd.Flags().String("format", "", "also export the reconciliation (csv, xlsx or json)")
	exportCmd.Flags().String("format", "json", "export format (csv, xlsx or json)")
	exportCmd.Flags().Bool("compare", false, "export the charge bearer comparison instead of the simulation")
	serveCmd.Flags().String("http-addr", "", "listen address (default: server.http_addr)")

	viper.BindPFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if viper.GetBool("debug") || cfg.Logging.Development {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Logging.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

// loadConfig reads --config (or CORRIDORSIM_CONFIG) and applies --data-file
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if path := viper.GetString("data-file"); path != "" {
		cfg.Catalog.DataFile = path
	}
	return cfg, nil
}

// env is what every command needs: config, logger and the catalog
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *corridor.Registry
}

func setup() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	var registry *corridor.Registry
	if cfg.Catalog.DataFile != "" {
		registry, err = corridor.LoadFile(cfg.Catalog.DataFile, logger)
	} else {
		registry, err = corridor.Load(logger)
	}
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to load corridor catalog: %w", err)
	}

	return &env{cfg: cfg, logger: logger, registry: registry}, nil
}

func (e *env) close() {
	e.logger.Sync()
}

// selection reads --method, --amount and --bearer for corridor c. Flags a
// command does not define keep their defaults.
func selection(cmd *cobra.Command, c *types.Corridor) (types.SettlementMethod, decimal.Decimal, types.ChargeBearer, error) {
	method := types.MethodSerial
	if f := cmd.Flags().Lookup("method"); f != nil {
		m, err := types.ParseSettlementMethod(f.Value.String())
		if err != nil {
			return "", decimal.Zero, "", err
		}
		method = m
	}

	amount := c.DefaultAmount
	if f := cmd.Flags().Lookup("amount"); f != nil && f.Value.String() != "" {
		a, err := decimal.NewFromString(f.Value.String())
		if err != nil {
			return "", decimal.Zero, "", types.NewError(types.ErrorCodeInvalidAmount, "amount is not a number", f.Value.String())
		}
		amount = a
	}

	bearer := types.ChargeBearerShared
	if f := cmd.Flags().Lookup("bearer"); f != nil {
		b, err := types.ParseChargeBearer(f.Value.String())
		if err != nil {
			return "", decimal.Zero, "", err
		}
		bearer = b
	}

	return method, amount, bearer, nil
}
