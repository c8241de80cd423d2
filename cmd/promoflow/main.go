// Package main provides the promoflow binary: the workflow server and an
// offline validator for promotion files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"promoflow/internal/app"
	"promoflow/internal/config"
	"promoflow/internal/exporter"
	"promoflow/internal/infrastructure"
	"promoflow/internal/ingest"
	"promoflow/internal/projection"
	"promoflow/internal/rules"
	"promoflow/internal/validation"
	"promoflow/pkg/contracts"
	"promoflow/pkg/contracts/domain"
)

// errInvalidRows makes the validate command exit non-zero
var errInvalidRows = errors.New("file contains invalid rows")

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           config.AppName,
		Short:         "Promotion upload, validation and warehouse push workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(serveCmd(&configPath), validateCmd(&configPath), versionCmd())
	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(*configPath)
			if err != nil {
				return err
			}
			return application.Run()
		},
	}
}

func validateCmd(configPath *string) *cobra.Command {
	var (
		schemaName    string
		maxRows       int
		asJSON        bool
		exportInvalid string
	)

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a CSV or XLSX promotion file",
		Long: `Validate runs the promotion rules over a file and prints the row counts,
the error breakdown and the invalid rows. It exits non-zero when any row is
invalid or the file does not match the schema.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if schemaName == "" {
				schemaName = cfg.Workflow.Schema
			}
			logger, err := infrastructure.NewLogger(config.LoggingConfig{Level: "warn", Format: "text"}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := validateFile(ctx, cfg.Workflow, args[0], schemaName, logger)
			if err != nil {
				return err
			}
			if exportInvalid != "" && report.Stats.Invalid > 0 {
				view := projection.Project(projection.Source{Validated: report.validated},
					projection.FilterInvalid, projection.LimitAll)
				if err := exporter.NewWriter(logger).WriteFile(ctx, exportInvalid, view); err != nil {
					return err
				}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report.limit(maxRows)); err != nil {
					return err
				}
			} else {
				report.print(cmd.OutOrStdout(), maxRows)
			}
			if report.Stats.Invalid > 0 {
				return errInvalidRows
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaName, "schema", "", "Schema variant (promo-retail, product-id); defaults to the configured one")
	cmd.Flags().IntVar(&maxRows, "max-rows", 20, "Invalid rows to list; 0 lists all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&exportInvalid, "export-invalid", "", "Write the invalid rows with their errors to a .csv or .xlsx file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), contracts.GetFullVersionString())
		},
	}
}

// invalidRow is one failing row, numbered from 1 like the file
type invalidRow struct {
	Row    int    `json:"row"`
	Errors string `json:"errors"`
}

type validationReport struct {
	File           string       `json:"file"`
	Schema         string       `json:"schema"`
	Stats          rules.Stats  `json:"stats"`
	QualityPercent float64      `json:"quality_percent"`
	Invalid        []invalidRow `json:"invalid"`

	validated *domain.Dataset
}

func validateFile(ctx context.Context, cfg config.WorkflowConfig, path, schemaName string, logger *slog.Logger) (*validationReport, error) {
	schema, err := rules.SchemaByName(schemaName)
	if err != nil {
		return nil, err
	}
	decoder := ingest.NewDecoder(validation.NewFileValidator(logger, cfg.MaxUploadMB), cfg.StreamingMB, logger)
	ds, info, err := decoder.DecodeFile(ctx, path)
	if err != nil {
		return nil, err
	}

	res, err := rules.NewEngine(schema, logger).Validate(ctx, ds)
	if err != nil {
		return nil, err
	}

	report := &validationReport{
		File:           info.Name,
		Schema:         schema.Name,
		Stats:          res.Stats,
		QualityPercent: res.Stats.QualityPercent(),
		validated:      res.Dataset,
	}
	for i := 0; i < res.Dataset.RowCount(); i++ {
		if res.Dataset.IsValidAt(i) {
			continue
		}
		report.Invalid = append(report.Invalid, invalidRow{
			Row:    i + 1,
			Errors: res.Dataset.Get(i, domain.ColumnValidationErrors).Text(),
		})
	}
	return report, nil
}

func (r *validationReport) limit(n int) *validationReport {
	if n <= 0 || len(r.Invalid) <= n {
		return r
	}
	out := *r
	out.Invalid = r.Invalid[:n]
	return &out
}

func (r *validationReport) print(w io.Writer, maxRows int) {
	fmt.Fprintf(w, "File:     %s\n", r.File)
	fmt.Fprintf(w, "Schema:   %s\n", r.Schema)
	fmt.Fprintf(w, "Rows:     %d\n", r.Stats.Total)
	fmt.Fprintf(w, "Valid:    %d\n", r.Stats.Valid)
	fmt.Fprintf(w, "Invalid:  %d\n", r.Stats.Invalid)
	fmt.Fprintf(w, "Quality:  %.1f%%\n", r.QualityPercent)
	if r.Stats.Invalid == 0 {
		return
	}

	fmt.Fprintf(w, "Errors:   %s\n\n", r.Stats.Breakdown())
	shown := r.limit(maxRows).Invalid
	for _, row := range shown {
		fmt.Fprintf(w, "  row %d: %s\n", row.Row, row.Errors)
	}
	if len(shown) < len(r.Invalid) {
		fmt.Fprintf(w, "  ... %d more\n", len(r.Invalid)-len(shown))
	}
}
