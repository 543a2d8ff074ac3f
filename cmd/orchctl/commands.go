package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/fare-orchestrator/internal/app"
	"github.com/yourorg/fare-orchestrator/internal/config"
	"github.com/yourorg/fare-orchestrator/internal/logger"
	"github.com/yourorg/fare-orchestrator/internal/monitor"
	"github.com/yourorg/fare-orchestrator/internal/orchestrator"
	"github.com/yourorg/fare-orchestrator/internal/planbuilder"
	"github.com/yourorg/fare-orchestrator/internal/reporting"
	"github.com/yourorg/fare-orchestrator/internal/trx"
)

// loadConfig reads --config. Logs go to stderr so stdout stays parseable.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if strings.EqualFold(cfg.Logger.OutputFile, "stdout") || cfg.Logger.OutputFile == "" {
		cfg.Logger.OutputFile = "stderr"
	}
	log, err := logger.New(cfg.Logger, "orchctl")
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type processOutput struct {
	File   string               `json:"file"`
	Result *orchestrator.Result `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process transaction requests with the configured services",
		Long: `Process one or more transaction request files and print each outcome
as JSON. Use "-" to read a request from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, _ := cmd.Flags().GetStringSlice("file")
			withReport, _ := cmd.Flags().GetBool("report")
			if len(files) == 0 {
				return fmt.Errorf("at least one --file is required")
			}

			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			out := make([]processOutput, 0, len(files))
			failed := 0
			for _, f := range files {
				raw, err := readInput(cmd, f)
				if err != nil {
					return err
				}
				po := processOutput{File: f}
				res, err := a.Handle(cmd.Context(), raw)
				if res.TransactionID != "" {
					po.Result = &res
				}
				if err != nil {
					po.Error = err.Error()
					failed++
				}
				out = append(out, po)
			}

			var payload any = out
			if withReport {
				report, err := a.Report()
				if err != nil {
					return err
				}
				payload = struct {
					Transactions []processOutput                `json:"transactions"`
					Report       *reporting.RetrospectiveReport `json:"report"`
				}{out, report}
			}
			if err := printJSON(cmd.OutOrStdout(), payload); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d transactions returned an error", failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceP("file", "f", nil, "request file; repeat for several, - for stdin")
	cmd.Flags().Bool("report", false, "append a retrospective report of the run")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check request files against the transaction request schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, _ := cmd.Flags().GetStringSlice("file")
			if len(files) == 0 {
				return fmt.Errorf("at least one --file is required")
			}
			m, err := monitor.NewTransactionRequestMonitor()
			if err != nil {
				return err
			}

			invalid := 0
			for _, f := range files {
				raw, err := readInput(cmd, f)
				if err != nil {
					return err
				}
				valid, problems, err := m.Validate(raw)
				switch {
				case err != nil:
					invalid++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", f, err)
				case !valid:
					invalid++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", f, monitor.FormatErrors(problems))
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", f)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d requests are invalid", invalid, len(files))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceP("file", "f", nil, "request file; repeat for several, - for stdin")
	return cmd
}

func plansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "Show the effective service plan of every transaction kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			b, err := planbuilder.NewPlanBuilder(cfg.Plans)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, kind := range []trx.Kind{trx.KindPricing, trx.KindExchange, trx.KindRefund, trx.KindWhatIf, trx.KindPortExchange} {
				p, err := b.Build(cmd.Context(), kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\n", kind)
				fmt.Fprintf(w, "  %-14s %s\n", "exc_itin:", p.ExcItin)
				fmt.Fprintf(w, "  %-14s %s\n", "new_itin:", p.NewItin)
				fmt.Fprintf(w, "  %-14s %s\n", "what_if:", p.WhatIf)
				fmt.Fprintf(w, "  %-14s %s\n", "port_exchange:", p.PortExchange)
			}
			return nil
		},
	}
}
