package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/retrieval"
)

var repairCmd = &cobra.Command{
	Use:   "repair --input <formula> --failed <formula>",
	Short: "Retrieve the nearest reference formula that beats the input",
	Long: `Rank the reference collection by distance to the failed formula and print
the first entry whose capacity beats the input.`,
	Example: `
# Find a replacement for a rejected candidate
chatbattery repair --input NaMnO2 --failed NaMn0.8Mg0.2O2

# Use a different reference file
chatbattery repair --input NaMnO2 --failed NaMn0.8Mg0.2O2 --reference refs.db
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		failed, _ := cmd.Flags().GetString("failed")
		refPath, _ := cmd.Flags().GetString("reference")
		asJSON, _ := cmd.Flags().GetBool("json")

		if input == "" || failed == "" {
			return fmt.Errorf("--input and --failed are required")
		}

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if refPath != "" {
			e.cfg.Reference.Path = refPath
		}

		ctx := cmd.Context()
		coll, err := loadReference(ctx, e)
		if err != nil {
			return err
		}

		bridge, err := startOracle(ctx, e)
		if err != nil {
			return err
		}
		defer bridge.Stop()

		repairer := newRepairer(e, bridge, newEngine(e.cfg, bridge))
		res, err := repairer.Find(ctx, coll, formula.Formula(input), formula.Formula(failed))
		out := cmd.OutOrStdout()
		if errors.Is(err, retrieval.ErrNoRepairFound) {
			fmt.Fprintf(out, "No valid battery was retrieved for %s.\n", failed)
			return nil
		}
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Fprintf(out, "%s %.3f\n", res.Formula, res.Value)
		fmt.Fprintf(cmd.ErrOrStderr(), "distance %.4f, %d entries scored\n", res.Distance, res.Checked)
		return nil
	},
}

func init() {
	repairCmd.Flags().StringP("input", "i", "", "Input formula the repair must beat")
	repairCmd.Flags().StringP("failed", "f", "", "Rejected candidate to repair")
	repairCmd.Flags().StringP("reference", "r", "", "Reference CSV or SQLite file (default from config)")
	repairCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}
