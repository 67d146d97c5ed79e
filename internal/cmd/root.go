// Package cmd implements the chatbattery command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/rand/chatbattery/internal/config"
	"github.com/rand/chatbattery/internal/logging"
)

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ./chatbattery.yaml if present)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(
		runCmd,
		extractCmd,
		decideCmd,
		repairCmd,
		referenceCmd,
		configCmd,
	)
}

var rootCmd = &cobra.Command{
	Use:   "chatbattery",
	Short: "Propose, validate and repair battery cathode formulas with an LLM",
	Long: `chatbattery asks a language model for optimized cathode formulas, checks
each one for novelty against a reference collection and the Materials Project,
scores it with the domain agent, and repairs failures by retrieving the nearest
known formula that beats the input.`,
	SilenceUsage: true,
}

// Execute runs the root command. It cancels on SIGINT and SIGTERM.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// env is what every command needs after flag parsing.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	closer io.Closer
}

func (e *env) Close() error {
	return e.closer.Close()
}

// setup loads the configuration named by --config and builds the logger.
func setup(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(logging.Options{
		Config:  cfg.Log,
		Debug:   debug,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)

	return &env{cfg: cfg, logger: logger, closer: closer}, nil
}

// colorEnabled reports whether w is a terminal.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
