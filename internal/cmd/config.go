package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rand/chatbattery/internal/config"
)

func init() {
	// config show flags
	configShowCmd.Flags().StringP("format", "f", "yaml", "Output format (yaml, json)")

	configCmd.AddCommand(
		configShowCmd,
		configEditCmd,
		configValidateCmd,
		configPathCmd,
	)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing chatbattery configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Display the effective configuration after merging defaults, the config file and the environment. API keys are redacted.",
	Example: `
# Show config as YAML
chatbattery config show

# Show config as JSON
chatbattery config show --format json
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		return writeConfig(cmd, e.cfg.Redacted(), format)
	},
}

func writeConfig(cmd *cobra.Command, cfg config.Config, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml", "":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	Long:  "Open the configuration file in your default editor, creating it from the defaults if needed",
	Example: `
# Edit config with $EDITOR
chatbattery config edit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := configFilePath(cmd)

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return fmt.Errorf("render default config: %w", err)
			}
			header := "# chatbattery configuration\n# API keys are read from OPENAI_API_KEY, ANTHROPIC_API_KEY, OPENROUTER_API_KEY and MP_API_KEY.\n\n"
			if err := os.WriteFile(configPath, append([]byte(header), data...), 0644); err != nil {
				return fmt.Errorf("create default config: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Created new config file: %s\n", configPath)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			editor = "vi"
		}

		execCmd := exec.CommandContext(cmd.Context(), editor, configPath)
		execCmd.Stdin = os.Stdin
		execCmd.Stdout = os.Stdout
		execCmd.Stderr = os.Stderr

		return execCmd.Run()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Check the configuration for errors and warnings",
	Example: `
# Validate configuration
chatbattery config validate
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		e, err := setup(cmd)
		if err != nil {
			fmt.Fprintf(out, "✗ Configuration error: %v\n", err)
			return err
		}
		defer e.Close()

		warnings := configWarnings(e.cfg)
		if len(warnings) > 0 {
			fmt.Fprintln(out, "Warnings:")
			for _, w := range warnings {
				fmt.Fprintf(out, "  ⚠ %s\n", w)
			}
			fmt.Fprintln(out, "\n✓ Configuration is valid with warnings")
			return nil
		}

		fmt.Fprintln(out, "✓ Configuration is valid")
		return nil
	},
}

// configWarnings lists settings that load but will fail at run time.
func configWarnings(cfg config.Config) []string {
	var warnings []string
	if cfg.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("Provider '%s' has no API key configured", cfg.LLM.Provider))
	}
	if cfg.Registry.Enabled && cfg.Registry.APIKey == "" {
		warnings = append(warnings, "Materials Project lookup is enabled but MP_API_KEY is not set")
	}
	if _, err := os.Stat(cfg.Reference.Path); err != nil {
		warnings = append(warnings, fmt.Sprintf("Reference collection not found: %s", cfg.Reference.Path))
	}
	if cfg.Retry.Unbounded() {
		warnings = append(warnings, "retry.max_attempts is 0: generation retries until cancelled")
	}
	return warnings
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file paths",
	Long:  "Display the paths where configuration is loaded from",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		paths := []struct {
			name string
			path string
		}{
			{"Config file", configFilePath(cmd)},
			{"Dotenv file", ".env"},
		}

		fmt.Fprintln(out, "Configuration Paths (in order of precedence, lowest first):")
		fmt.Fprintln(out)
		for _, p := range paths {
			status := "✗"
			if _, err := os.Stat(p.path); err == nil {
				status = "✓"
			}
			abs, err := filepath.Abs(p.path)
			if err != nil {
				abs = p.path
			}
			fmt.Fprintf(out, "  %s %s\n    %s\n", status, p.name, abs)
		}
		fmt.Fprintf(out, "\nEnvironment overrides use the %s prefix.\n", config.EnvPrefix)
		return nil
	},
}

// configFilePath returns --config or the default file name.
func configFilePath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return config.DefaultPath
}
