package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"windgen-cloud/internal/analytics/domain/canonical"
	"windgen-cloud/internal/analytics/domain/coverage"
	reconcileapp "windgen-cloud/internal/reconcile/application"
	"windgen-cloud/internal/reconcile/report"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

func newRootCmd(build builder) *cobra.Command {
	var (
		a       *app
		cleanup func()
	)
	root := &cobra.Command{
		Use:   "genrecon",
		Short: "Wind generation reconciliation jobs",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			var err error
			a, cleanup, err = build(cmd.Context())
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if cleanup != nil {
				cleanup()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	current := func() *app { return a }

	units := &cobra.Command{Use: "units", Short: "Unit directory maintenance"}
	units.AddCommand(newUnitsImportCmd(current))

	root.AddCommand(
		newReconcileCmd(current),
		newGapsCmd(current),
		newIngestCmd(current),
		newRollupCmd(current),
		newOverrideCmd(current),
		newMigrateCmd(current),
		units,
	)
	return root
}

type scopeFlags struct {
	source string
	from   string
	to     string
	ids    []string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", "", "source name (ELEXON, ENTSOE, EIA, ENERGISTYRELSEN, TAIPOWER)")
	cmd.Flags().StringVar(&f.from, "from", "", "range start (RFC3339 or YYYY-MM-DD, UTC)")
	cmd.Flags().StringVar(&f.to, "to", "", "range end, exclusive (RFC3339 or YYYY-MM-DD, UTC)")
	cmd.Flags().StringSliceVar(&f.ids, "ids", nil, "comma separated source identifiers")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

func (f *scopeFlags) parse() (telemetry.Source, time.Time, time.Time, error) {
	from, err := parseWhen(f.from)
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
	}
	to, err := parseWhen(f.to)
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
	}
	return telemetry.Source(strings.ToUpper(f.source)), from, to, nil
}

func newReconcileCmd(current func() *app) *cobra.Command {
	var (
		scope       scopeFlags
		mode        string
		dryRun      bool
		writeReport bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild canonical records for a source and range",
		Example: `  genrecon reconcile --source ELEXON --from 2024-03-01 --to 2024-04-01
  genrecon reconcile --source ENTSOE --from 2024-03-04 --to 2024-03-06 --mode gaps_only --report`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			source, from, to, err := scope.parse()
			if err != nil {
				return err
			}
			result, err := a.reconcile.Reconcile(cmd.Context(), reconcileapp.Request{
				Source: source,
				Scope:  reconcileapp.Scope{From: from, To: to, Identifiers: scope.ids},
				Mode:   reconcileapp.Mode(mode),
				DryRun: dryRun,
			})
			if err != nil {
				return err
			}
			if writeReport {
				path, err := writeRunReport(cmd.Context(), a, result)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "report: %s\n", path)
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.FailedSubPeriods > 0 {
				return fmt.Errorf("%d sub-periods failed", result.FailedSubPeriods)
			}
			return nil
		},
	}
	scope.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", string(reconcileapp.ModeFull), "full or gaps_only")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "derive without writing")
	cmd.Flags().BoolVar(&writeReport, "report", false, "write a report bundle below the report root")
	return cmd
}

func writeRunReport(ctx context.Context, a *app, result reconcileapp.Result) (string, error) {
	source := string(result.Source)
	records, err := a.reconcile.Canonical(ctx, canonical.Scope{
		Granularity: canonical.GranularityHour,
		Source:      source,
		From:        result.From,
		To:          result.To,
	})
	if err != nil {
		return "", err
	}
	rep, err := a.reconcile.Coverage(ctx, reconcileapp.CoverageRequest{
		Source: result.Source,
		From:   result.From,
		To:     result.To,
		Store:  reconcileapp.StoreCanonical,
	})
	if err != nil {
		return "", err
	}
	return report.Write(report.Dir(a.cfg.ReportRoot, result), report.Bundle{
		Source:   source,
		Result:   &result,
		Records:  records,
		Coverage: &rep,
	})
}

func newGapsCmd(current func() *app) *cobra.Command {
	var (
		scope       scopeFlags
		store       string
		granularity string
		format      string
		out         string
	)
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Report missing periods in the raw or canonical store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			source, from, to, err := scope.parse()
			if err != nil {
				return err
			}
			rep, err := a.reconcile.Coverage(cmd.Context(), reconcileapp.CoverageRequest{
				Source:      source,
				From:        from,
				To:          to,
				Identifiers: scope.ids,
				Granularity: coverage.Granularity(granularity),
				Store:       reconcileapp.Store(store),
			})
			if err != nil {
				return err
			}
			var data []byte
			switch format {
			case "json":
				return printJSON(cmd.OutOrStdout(), rep)
			case "pdf":
				data, err = report.BuildCoveragePDF(string(source), rep)
			case "xlsx":
				data, err = report.BuildCoverageXLSX(string(source), rep, nil)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			if err != nil {
				return err
			}
			if out == "" {
				return errors.New("--out is required for binary formats")
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	scope.register(cmd)
	cmd.Flags().StringVar(&store, "store", string(reconcileapp.StoreRaw), "raw or canonical")
	cmd.Flags().StringVar(&granularity, "granularity", "", "15min, settlement, hour or month")
	cmd.Flags().StringVar(&format, "format", "json", "json, xlsx or pdf")
	cmd.Flags().StringVar(&out, "out", "", "output file for xlsx or pdf")
	return cmd
}

func newIngestCmd(current func() *app) *cobra.Command {
	var (
		clearFirst bool
		scope      scopeFlags
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest raw records from JSON Lines files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			if clearFirst {
				source, from, to, err := scope.parse()
				if err != nil {
					return err
				}
				if _, err := a.ingest.ClearRaw(cmd.Context(), telemetry.RawQuery{Source: source, Identifiers: scope.ids, From: from, To: to}); err != nil {
					return err
				}
			}
			result, err := a.ingest.IngestFiles(cmd.Context(), args)
			if err != nil {
				return err
			}
			errs := make([]string, 0, len(result.Errors))
			for _, e := range result.Errors {
				errs = append(errs, e.Error())
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"files":        result.Files,
				"failed_files": result.FailedFiles,
				"received":     result.Received,
				"applied":      result.Applied,
				"dropped":      result.Dropped,
				"invalid":      result.Invalid,
				"failed":       result.Failed,
				"unmapped":     result.Unmapped,
				"errors":       errs,
			})
		},
	}
	cmd.Flags().BoolVar(&clearFirst, "clear", false, "delete the raw scope given by --source/--from/--to first")
	cmd.Flags().StringVar(&scope.source, "source", "", "source of the scope to clear")
	cmd.Flags().StringVar(&scope.from, "from", "", "start of the scope to clear")
	cmd.Flags().StringVar(&scope.to, "to", "", "end of the scope to clear")
	cmd.Flags().StringSliceVar(&scope.ids, "ids", nil, "identifiers of the scope to clear")
	return cmd
}

func newRollupCmd(current func() *app) *cobra.Command {
	var (
		source string
		month  string
		ids    []string
	)
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Derive monthly canonical records from hourly ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := time.Parse("2006-01", month)
			if err != nil {
				return errors.New("--month must be YYYY-MM")
			}
			written, err := current().reconcile.Rollup(cmd.Context(), telemetry.Source(strings.ToUpper(source)), start, ids)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"source": strings.ToUpper(source), "month": month, "written": written})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source name")
	cmd.Flags().StringVar(&month, "month", "", "month as YYYY-MM (UTC)")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "comma separated source identifiers")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func newOverrideCmd(current func() *app) *cobra.Command {
	var (
		source      string
		unit        string
		at          string
		granularity string
		value       float64
		reason      string
		by          string
	)
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Set a manual value on a canonical record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseWhen(at)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			key := canonical.Key{
				Granularity:      canonical.Granularity(granularity),
				PeriodStart:      start,
				GenerationUnitID: unit,
				Source:           strings.ToUpper(source),
			}
			if err := current().reconcile.Override(cmd.Context(), key, value, reason, by); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source name")
	cmd.Flags().StringVar(&unit, "unit", "", "generation unit id")
	cmd.Flags().StringVar(&at, "at", "", "period start (RFC3339)")
	cmd.Flags().StringVar(&granularity, "granularity", string(canonical.GranularityHour), "hour or month")
	cmd.Flags().Float64Var(&value, "value", 0, "generation in MWh")
	cmd.Flags().StringVar(&reason, "reason", "", "why the value is overridden")
	cmd.Flags().StringVar(&by, "by", "", "who overrides it")
	for _, name := range []string{"source", "unit", "at", "value", "reason", "by"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newUnitsImportCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import units and source mappings from a yaml file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			file, err := current().units.ImportFile(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d units, %d mappings\n", len(file.Units), len(file.Mappings))
			return nil
		},
	}
}

func newMigrateCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			if a.migrate == nil {
				return errors.New("migrations need a database")
			}
			version, err := a.migrate()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}

func parseWhen(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("value required")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor YYYY-MM-DD", value)
	}
	return t, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
