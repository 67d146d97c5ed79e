package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/observability"
	"github.com/rand/chatbattery/internal/session"
	"github.com/rand/chatbattery/internal/transcript"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an optimization session for one input formula",
	Long: `Run a full propose-validate-repair session.

Each round asks the language model for optimized formulas, looks every new
formula up in the reference collection and the Materials Project, scores it
with the domain agent, and retrieves a repair for each novel formula that does
not beat the input. The session ends when every candidate of a round is valid
or the round cap is reached.`,
	Example: `
# Optimize a sodium cathode
chatbattery run --input "Na3V2(PO4)3"

# Cap the session at three rounds and score sequentially
chatbattery run --input NaMnO2 --rounds 3 --workers 1

# Review each round's formulas before they are validated
chatbattery run --input NaMnO2 --confirm

# Emit the session summary as JSON after the transcript
chatbattery run --input NaMnO2 --json
  `,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		rounds, _ := cmd.Flags().GetInt("rounds")
		workers, _ := cmd.Flags().GetInt("workers")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		confirm, _ := cmd.Flags().GetBool("confirm")
		asJSON, _ := cmd.Flags().GetBool("json")
		noColor, _ := cmd.Flags().GetBool("no-color")

		if strings.TrimSpace(input) == "" {
			return fmt.Errorf("--input is required")
		}

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if cmd.Flags().Changed("rounds") {
			e.cfg.Session.MaxRounds = rounds
		}
		if cmd.Flags().Changed("workers") {
			e.cfg.Session.Workers = workers
		}
		if cmd.Flags().Changed("threshold") {
			e.cfg.Decision.Threshold = threshold
		}
		if err := e.cfg.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()
		metrics := observability.NewMetrics(nil)

		coll, err := loadReference(ctx, e)
		if err != nil {
			return err
		}

		bridge, err := startOracle(ctx, e)
		if err != nil {
			return err
		}
		defer bridge.Stop()

		lookups, err := newLookups(e, coll, bridge, metrics)
		if err != nil {
			return err
		}
		loop, err := newGenerationLoop(e, metrics)
		if err != nil {
			return err
		}
		engine := newEngine(e.cfg, bridge)

		opts := []session.RunnerOption{
			session.WithWorkers(e.cfg.Session.Workers),
			session.WithPrompts(session.Prompts{Material: e.cfg.Session.Material}),
			session.WithRunnerMetrics(metrics),
		}
		if confirm {
			opts = append(opts, session.WithConfirm(promptConfirm(cmd.InOrStdin(), cmd.ErrOrStderr())))
		}

		runner := session.NewRunner(session.Deps{
			Loop:       loop,
			Engine:     engine,
			Repairer:   newRepairer(e, bridge, engine),
			Collection: coll,
			Lookups:    lookups,
		}, opts...)
		runner.SetLogger(e.logger.With("component", "session"))

		s := session.New(formula.Formula(strings.TrimSpace(input)), session.Options{
			SystemPrompt: e.cfg.LLM.SystemPrompt,
		})
		e.logger.Info("session started", "session", s.ID(), "input", s.Input())

		out := cmd.OutOrStdout()
		color := !noColor && colorEnabled(out)

		res, runErr := runner.Run(ctx, s, e.cfg.Session.MaxRounds)
		fmt.Fprint(out, transcript.Render(s.Transcript().Entries(), color))
		e.logger.Info("metrics", metrics.Snapshot().LogAttrs()...)
		if runErr != nil {
			return fmt.Errorf("session %s: %w", s.ID(), runErr)
		}

		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		fmt.Fprintln(out)
		printSummary(out, res)
		return nil
	},
}

func init() {
	runCmd.Flags().StringP("input", "i", "", "Input cathode formula to optimize")
	runCmd.Flags().IntP("rounds", "r", 0, "Maximum rounds (default from config)")
	runCmd.Flags().IntP("workers", "w", 0, "Concurrent scoring workers (default from config)")
	runCmd.Flags().Float64P("threshold", "k", 0, "Capacity ratio a candidate must exceed (default from config)")
	runCmd.Flags().Bool("confirm", false, "Review each round's formulas on stdin before validation")
	runCmd.Flags().BoolP("json", "j", false, "Print the session summary as JSON")
	runCmd.Flags().Bool("no-color", false, "Disable coloured transcript output")
}

func printSummary(w io.Writer, res session.Result) {
	status := "complete"
	if !res.Complete {
		status = "stopped at round cap (" + res.State.String() + ")"
	}
	fmt.Fprintf(w, "Session %s: %s\n", res.SessionID, status)
	if !res.CreatedAt.IsZero() {
		fmt.Fprintf(w, "  Started:         %s\n", res.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  Rounds:          %d\n", res.Stats.Rounds)
	fmt.Fprintf(w, "  Generator calls: %d\n", res.Stats.GeneratorCalls)
	fmt.Fprintf(w, "  Feedback:        %d\n", res.Stats.Feedback)
	fmt.Fprintf(w, "  Repairs:         %d found, %d missed\n", res.Stats.RepairsFound, res.Stats.RepairsMissed)
	if res.Stats.Unscored > 0 {
		fmt.Fprintf(w, "  Unscored:        %d\n", res.Stats.Unscored)
	}

	if len(res.Valid) == 0 {
		fmt.Fprintln(w, "  No valid formulas.")
		return
	}
	fmt.Fprintln(w, "  Valid formulas:")
	for _, f := range res.Valid {
		fmt.Fprintf(w, "    * %s\n", f)
	}
}

// promptConfirm shows the proposed formulas on w and reads a replacement
// list from r, one formula per line, ended by a blank line or EOF. A blank
// first line keeps the proposal.
func promptConfirm(r io.Reader, w io.Writer) session.ConfirmFunc {
	sc := bufio.NewScanner(r)
	return func(ctx context.Context, proposed []formula.Formula) ([]formula.Formula, error) {
		fmt.Fprintln(w, "Proposed formulas:")
		for _, f := range proposed {
			fmt.Fprintf(w, "  * %s\n", f)
		}
		fmt.Fprintln(w, "Enter replacements one per line, or a blank line to accept:")

		var out []formula.Formula
		for sc.Scan() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				break
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
			if line != "" {
				out = append(out, formula.Formula(line))
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read confirmation: %w", err)
		}
		return out, nil
	}
}
