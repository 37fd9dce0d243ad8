package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"focusd/internal/store"
)

// exportReport describes a finished export.
type exportReport struct {
	Database   string           `json:"database" yaml:"database"`
	InstanceID string           `json:"instance_id" yaml:"instance_id"`
	Cursor     uint64           `json:"cursor" yaml:"cursor"`
	Apps       int              `json:"apps" yaml:"apps"`
	Inserted   int64            `json:"inserted" yaml:"inserted"`
	Skipped    int64            `json:"skipped" yaml:"skipped"`
	Totals     []store.AppTotal `json:"totals,omitempty" yaml:"totals,omitempty"`
}

func exportCmd(opts *options) *cobra.Command {
	var (
		dbPath string
		full   bool
		batch  int
		totals bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy apps and records into a SQLite database",
		Long: `Copy apps and records into a SQLite database.

The data directory is read directly, so export works whether or not the
daemon is running. Exports are incremental: only records appended since
the previous export of the same data directory are written, unless --full
is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.Export.DatabasePath
			}
			if batch <= 0 {
				batch = cfg.Export.BatchSize
			}

			src, err := openLocal(cfg.Storage.DataDir)
			if err != nil {
				return err
			}
			defer src.Close()

			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			run, err := db.ExportFrom(ctx, src.engine, batch, full)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			report := exportReport{
				Database:   dbPath,
				InstanceID: run.InstanceID,
				Cursor:     run.Cursor,
				Apps:       run.Apps,
				Inserted:   run.Inserted,
				Skipped:    run.Skipped,
			}
			if totals {
				if report.Totals, err = db.AppTotals(ctx, math.MinInt64, math.MaxInt64); err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			if opts.format != formatTable {
				return emit(w, opts.format, report, nil)
			}
			fields(w, "Export", [][2]string{
				{"Database", report.Database},
				{"Instance", report.InstanceID},
				{"Apps", strconv.Itoa(report.Apps)},
				{"Inserted", strconv.FormatInt(report.Inserted, 10)},
				{"Skipped", strconv.FormatInt(report.Skipped, 10)},
				{"Cursor", strconv.FormatUint(report.Cursor, 10)},
			})
			if totals {
				fmt.Fprintln(w)
				return emit(w, formatTable, nil, func() tabular {
					t := tabular{headers: []string{"App", "Time"}, numeric: map[int]bool{1: true}}
					for _, a := range report.Totals {
						t.rows = append(t.rows, []string{a.Path, formatMillis(a.Millis)})
					}
					return t
				})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database (default: export.database_path from config)")
	cmd.Flags().BoolVar(&full, "full", false, "re-export every record instead of resuming")
	cmd.Flags().IntVar(&batch, "batch", 0, "records per transaction (default: export.batch_size from config)")
	cmd.Flags().BoolVar(&totals, "totals", false, "print per-application totals from the database afterwards")
	return cmd
}
