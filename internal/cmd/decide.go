package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rand/chatbattery/internal/decision"
	"github.com/rand/chatbattery/internal/formula"
)

var decideCmd = &cobra.Command{
	Use:   "decide --input <formula> <candidate>...",
	Short: "Score candidates against an input formula",
	Long: `Score every candidate with the domain agent and report whether its capacity
exceeds the input's capacity times the decision threshold.`,
	Example: `
# Compare two candidates with NaMnO2
chatbattery decide --input NaMnO2 NaMn0.9Ti0.1O2 NaMn0.8Mg0.2O2

# Require a 10 percent improvement
chatbattery decide --input NaMnO2 --threshold 1.1 NaMn0.9Ti0.1O2
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		asJSON, _ := cmd.Flags().GetBool("json")

		if input == "" {
			return fmt.Errorf("--input is required")
		}

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if cmd.Flags().Changed("threshold") {
			e.cfg.Decision.Threshold = threshold
		}

		ctx := cmd.Context()
		bridge, err := startOracle(ctx, e)
		if err != nil {
			return err
		}
		defer bridge.Stop()

		cands := make([]formula.Formula, len(args))
		for i, a := range args {
			cands[i] = formula.Formula(a)
		}

		decisions, err := newEngine(e.cfg, bridge).DecideMany(ctx, formula.Formula(input), cands)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(decisions)
		}
		printDecisions(out, decisions)
		return nil
	},
}

func init() {
	decideCmd.Flags().StringP("input", "i", "", "Input formula to beat")
	decideCmd.Flags().Float64P("threshold", "k", 0, "Capacity ratio a candidate must exceed (default from config)")
	decideCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}

func printDecisions(w io.Writer, decisions []decision.Decision) {
	if len(decisions) == 0 {
		return
	}
	fmt.Fprintf(w, "Input %s: %.3f\n", decisions[0].Input, decisions[0].InputValue)
	for _, d := range decisions {
		verdict := "invalid"
		if d.Valid {
			verdict = "valid"
		}
		fmt.Fprintf(w, "  %-24s %10.3f  %s\n", d.Candidate, d.CandidateValue, verdict)
	}
}
