package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coolbeans/gifttax/pkg/config"
	"github.com/coolbeans/gifttax/pkg/engine"
	"github.com/coolbeans/gifttax/pkg/gift"
	"github.com/coolbeans/gifttax/pkg/lawtable"
	"github.com/coolbeans/gifttax/pkg/logging"
	"github.com/coolbeans/gifttax/pkg/money"
	"github.com/coolbeans/gifttax/pkg/report"
	"github.com/coolbeans/gifttax/pkg/server"
	"github.com/coolbeans/gifttax/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gifttax",
		Short: "Gift tax calculator driven by versioned law tables",
		Long: `Gifttax computes gift tax on a transfer using a versioned legal table.

Rates, brackets and deductions live in a YAML law table, not in code.
Values still under review may be written as PLACEHOLDER; the table then
loads as unconfigured and computations report the taxable base without
a tax figure.

Settings come from the environment (or a .env file):
  GIFTTAX_TABLE, GIFTTAX_ADDR, GIFTTAX_LOG_LEVEL, GIFTTAX_DEV,
  GIFTTAX_WATCH, GIFTTAX_MAX_PRIOR_GIFTS, GIN_MODE`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(computeCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(serveCmd())
	return root
}

// settings loads the environment configuration and applies the shared
// --table flag when it was given.
func settings(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("table") {
		cfg.TablePath, _ = cmd.Flags().GetString("table")
	}
	return cfg, nil
}

func computeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute gift tax for one transfer",
		Long: `Compute gift tax for one transfer and print the breakdown.

Prior gifts from the same donor to the same donee are given as
DATE=AMOUNT pairs; only those within ten years of the gift date are
aggregated.

Example:
  gifttax compute --residency resident --relationship lineal_descendant_adult \
    --date 2025-02-10 --amount 120000000
  gifttax compute --residency resident --relationship spouse \
    --date 2025-02-10 --amount 3500000000 --format markdown
  gifttax compute --residency resident --relationship lineal_descendant_minor \
    --date 2025-02-10 --amount 30000000 --prior 2023-05-01=5000000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings(cmd)
			if err != nil {
				return err
			}

			residency, _ := cmd.Flags().GetString("residency")
			relationship, _ := cmd.Flags().GetString("relationship")
			giftDate, _ := cmd.Flags().GetString("date")
			amount, _ := cmd.Flags().GetString("amount")
			debt, _ := cmd.Flags().GetString("debt")
			recipient, _ := cmd.Flags().GetString("recipient")
			propertyType, _ := cmd.Flags().GetString("property-type")
			priors, _ := cmd.Flags().GetStringArray("prior")
			formatStr, _ := cmd.Flags().GetString("format")

			raw := gift.Raw{
				Residency:     residency,
				Relationship:  relationship,
				GiftDate:      giftDate,
				Amount:        gift.Text(amount),
				DebtAssumed:   gift.Text(debt),
				RecipientName: recipient,
				PropertyType:  propertyType,
			}
			for _, prior := range priors {
				date, value, ok := strings.Cut(prior, "=")
				if !ok {
					return fmt.Errorf("--prior %q: expected DATE=AMOUNT", prior)
				}
				raw.PriorGifts = append(raw.PriorGifts, gift.RawPriorGift{Date: date, Amount: gift.Text(value)})
			}

			law, err := lawtable.LoadFile(cfg.TablePath)
			if err != nil {
				return err
			}

			validator := gift.NewValidator(gift.WithMaxPriorGifts(cfg.MaxPriorGifts))
			in, err := validator.Validate(raw)
			if err != nil {
				var validationErr *gift.ValidationError
				if errors.As(err, &validationErr) {
					for _, problem := range validationErr.Problems {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", problem)
					}
				}
				return err
			}

			breakdown, err := engine.Compute(in, law)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(formatStr) {
			case "json":
				data, err := report.JSON(breakdown)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			case "markdown", "md":
				fmt.Fprint(out, report.Markdown(breakdown))
			case "text", "":
				fmt.Fprint(out, report.Text(breakdown))
			default:
				return fmt.Errorf("unknown format %q (use text, markdown or json)", formatStr)
			}
			return nil
		},
	}

	cmd.Flags().String("table", config.DefaultTable, "Law table YAML file")
	cmd.Flags().String("residency", "", "Donee residency: resident or non_resident")
	cmd.Flags().String("relationship", "", "Donee relationship to the donor")
	cmd.Flags().String("date", "", "Gift date (YYYY-MM-DD)")
	cmd.Flags().String("amount", "", "Gift amount")
	cmd.Flags().String("debt", "", "Debt assumed by the donee")
	cmd.Flags().String("recipient", "", "Recipient name, shown in the report")
	cmd.Flags().String("property-type", "", "Property type: cash, real_estate, stock or other")
	cmd.Flags().StringArray("prior", nil, "Prior gift as DATE=AMOUNT (repeatable)")
	cmd.Flags().StringP("format", "f", "text", "Output format: text, markdown or json")
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load a law table and report whether it is configured",
		Long: `Load a law table and report its version, its configured state and
every value still to be supplied.

A table with structural problems fails with a non-zero exit status.

Example:
  gifttax check --table lawtables/kor_2025.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings(cmd)
			if err != nil {
				return err
			}

			law, err := lawtable.LoadFile(cfg.TablePath)
			if err != nil {
				var cfgErr *lawtable.ConfigurationError
				if errors.As(err, &cfgErr) {
					for _, issue := range cfgErr.Issues {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", issue)
					}
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Table:      %s\n", law.Source())
			fmt.Fprintf(out, "Version:    %s\n", law.Version())
			if law.Reference() != "" {
				fmt.Fprintf(out, "Reference:  %s\n", law.Reference())
			}
			fmt.Fprintf(out, "Brackets:   %d\n", len(law.Brackets()))
			if law.CreditFormula() != "" {
				fmt.Fprintf(out, "Credit:     %s\n", law.CreditFormula())
			}

			if law.Configured() {
				fmt.Fprintln(out, "Status:     configured")
				return nil
			}
			fmt.Fprintln(out, "Status:     unconfigured")
			fmt.Fprintln(out, "Missing values:")
			for _, gap := range law.Gaps() {
				fmt.Fprintf(out, "  - %s\n", gap)
			}

			fmt.Fprintln(out, "Known deductions:")
			for _, residency := range sortedResidencies(law) {
				for _, relationship := range law.Relationships() {
					if value, ok := law.Deduction(residency, relationship); ok && value.Valid {
						fmt.Fprintf(out, "  %s/%s: %s\n", residency, relationship, money.FormatNull(value))
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().String("table", config.DefaultTable, "Law table YAML file")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calculator over HTTP",
		Long: `Serve the calculator as a JSON API.

Endpoints:
  GET  /health         liveness and loaded table version
  GET  /api/law        the loaded table, its gaps and schedules
  POST /api/compute    compute tax for one transfer

With --watch the table file is reloaded when it changes; requests in
flight keep the snapshot they started with.

Example:
  gifttax serve --table lawtables/kor_2025.yaml --addr :8080 --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr, _ = cmd.Flags().GetString("addr")
			}
			if cmd.Flags().Changed("watch") {
				cfg.Watch, _ = cmd.Flags().GetBool("watch")
			}

			logger, err := logging.New(cfg.LogLevel, cfg.Development)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			gin.SetMode(cfg.GinMode)

			registry, err := lawtable.NewRegistry(cfg.TablePath, lawtable.WithLogger(logger))
			if err != nil {
				return err
			}
			defer registry.Close()

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Watch {
				if err := registry.Watch(ctx); err != nil {
					return err
				}
				registry.OnChange(func(law *lawtable.LawContext) {
					logger.Info("serving new law table", zap.String("version", law.Version()))
				})
			}

			srv := server.New(registry,
				server.WithLogger(logger),
				server.WithValidator(gift.NewValidator(gift.WithMaxPriorGifts(cfg.MaxPriorGifts))),
			)
			return srv.Run(ctx, cfg.Addr)
		},
	}

	cmd.Flags().String("table", config.DefaultTable, "Law table YAML file")
	cmd.Flags().String("addr", config.DefaultAddr, "Listen address")
	cmd.Flags().Bool("watch", false, "Reload the table when the file changes")
	return cmd
}

func sortedResidencies(law *lawtable.LawContext) []types.Residency {
	schedule := law.DeductionSchedule()
	var out []types.Residency
	for _, residency := range types.Residencies {
		if _, ok := schedule[residency]; ok {
			out = append(out, residency)
		}
	}
	return out
}

// contextOrBackground guards commands executed without a context.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
