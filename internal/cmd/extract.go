package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rand/chatbattery/internal/formula"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file|-]",
	Short: "Print the formulas found in a model reply",
	Long: `Extract formula-shaped tokens from the bullet lines of a model reply.

Only lines starting with "*" are read. A token counts as a formula when it has
more than one uppercase letter and at least one digit. Reads stdin when no
file is given or the file is "-".`,
	Example: `
# Extract from a saved reply
chatbattery extract reply.txt

# Extract from stdin, skipping formulas already seen
cat reply.txt | chatbattery extract --exclude NaMnO2,NaFePO4
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		asJSON, _ := cmd.Flags().GetBool("json")

		text, err := readInput(cmd, args)
		if err != nil {
			return err
		}

		skip := formula.NewSet()
		for _, f := range exclude {
			skip.Add(formula.Formula(f))
		}
		found := formula.NewExtractor().Extract(text, skip)

		out := cmd.OutOrStdout()
		if asJSON {
			return json.NewEncoder(out).Encode(formula.Strings(found))
		}
		for _, f := range found {
			fmt.Fprintln(out, f)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringSliceP("exclude", "x", nil, "Formulas to leave out (comma-separated)")
	extractCmd.Flags().BoolP("json", "j", false, "Output as a JSON array")
}

// readInput returns the contents of args[0], or stdin when it is absent or "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), nil
}
