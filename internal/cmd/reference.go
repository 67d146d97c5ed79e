package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/reference"
)

func init() {
	// reference export flags
	referenceExportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	referenceExportCmd.Flags().StringP("format", "f", "json", "Output format (json, jsonl)")

	referenceStatsCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	referenceCmd.AddCommand(
		referenceImportCmd,
		referenceStatsCmd,
		referenceExportCmd,
	)
}

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Reference collection commands",
	Long:  "Commands for managing the reference collection of known cathode formulas",
}

var referenceImportCmd = &cobra.Command{
	Use:   "import <csv> <db>",
	Short: "Import a reference CSV into SQLite",
	Long: `Read the formula column of a CSV file and replace the contents of a SQLite
reference database with it. Point reference.path at the database afterwards.`,
	Example: `
# Import the sodium cathode set
chatbattery reference import data/Na_battery/preprocessed.csv data/reference.db
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		csvPath, dbPath := args[0], args[1]

		coll, err := reference.LoadCSV(csvPath)
		if err != nil {
			return err
		}

		store, err := reference.NewStore(reference.Options{
			Path:              dbPath,
			CreateIfNotExists: true,
		})
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Import(cmd.Context(), coll, filepath.Base(csvPath)); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d formulas from %s into %s\n", coll.Len(), csvPath, dbPath)
		return nil
	},
}

var referenceStatsCmd = &cobra.Command{
	Use:   "stats [path]",
	Short: "Show reference collection statistics",
	Long:  "Display the size of a reference CSV or database and, for a database, its last import",
	Example: `
# Show statistics for the configured collection
chatbattery reference stats

# Show statistics for a specific database
chatbattery reference stats data/reference.db
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		path, err := referencePath(cmd, args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		coll, err := reference.Load(ctx, path)
		if err != nil {
			return err
		}

		stats := struct {
			Path       string                `json:"path"`
			Formulas   int                   `json:"formulas"`
			LastImport *reference.ImportInfo `json:"last_import,omitempty"`
		}{Path: path, Formulas: coll.Len()}

		if reference.IsDatabase(path) {
			store, err := reference.NewStore(reference.Options{Path: path})
			if err != nil {
				return err
			}
			defer store.Close()
			if stats.LastImport, err = store.LastImport(ctx); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return json.NewEncoder(out).Encode(stats)
		}

		fmt.Fprintln(out, "Reference Statistics")
		fmt.Fprintln(out, "====================")
		fmt.Fprintf(out, "Path:      %s\n", stats.Path)
		fmt.Fprintf(out, "Formulas:  %d\n", stats.Formulas)
		if li := stats.LastImport; li != nil {
			fmt.Fprintf(out, "Imported:  %d from %s at %s\n", li.Count, li.Source, li.ImportedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var referenceExportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Export the reference collection",
	Long:  "Export the formulas of a reference CSV or database as JSON or JSON lines",
	Example: `
# Export to stdout
chatbattery reference export data/reference.db

# Export to file, one formula per line
chatbattery reference export -f jsonl -o formulas.jsonl
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")

		path, err := referencePath(cmd, args)
		if err != nil {
			return err
		}

		coll, err := reference.Load(cmd.Context(), path)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		encoder := json.NewEncoder(w)
		switch format {
		case "json":
			encoder.SetIndent("", "  ")
			export := struct {
				ExportedAt string   `json:"exported_at"`
				Source     string   `json:"source"`
				Formulas   []string `json:"formulas"`
			}{
				ExportedAt: time.Now().Format(time.RFC3339),
				Source:     path,
				Formulas:   formula.Strings(coll.Formulas()),
			}
			if err := encoder.Encode(export); err != nil {
				return fmt.Errorf("encode export: %w", err)
			}
		case "jsonl":
			for _, f := range coll.Formulas() {
				if err := encoder.Encode(map[string]string{reference.FormulaColumn: string(f)}); err != nil {
					return fmt.Errorf("encode export: %w", err)
				}
			}
		default:
			return fmt.Errorf("unknown format %q", format)
		}

		if output != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d formulas to %s\n", coll.Len(), output)
		}
		return nil
	},
}

// referencePath returns args[0] or the configured reference path.
func referencePath(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	e, err := setup(cmd)
	if err != nil {
		return "", err
	}
	defer e.Close()
	return e.cfg.Reference.Path, nil
}
