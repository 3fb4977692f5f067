package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/tempo/am"
	"github.com/teranos/tempo/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage tempo configuration",
	Long: sym.AM + ` am — Manage tempo configuration ("I am")

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (TEMPO_* prefix)
3. Project config (./am.toml, searching up directories)
4. User config (~/.tempo/am.toml)
5. System config (/etc/tempo/am.toml)
6. Default values

Examples:
  tempo am show                    # Show current configuration
  tempo am show --format json      # Show configuration in JSON format
  tempo am get cluster.node_id     # Get specific config value
  tempo am validate                # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, cluster.lease.backend)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadUnvalidated()
	if err != nil {
		return err
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# tempo configuration\n%s", string(data))

	case "toml":
		data, err := am.Render(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("# tempo configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	fmt.Println(v.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := LoadConfig(); err != nil {
		return err
	}
	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")

	home, _ := os.UserHomeDir()
	candidates := []struct{ label, path string }{
		{"[SYSTEM] ", "/etc/tempo/am.toml"},
		{"[USER]   ", filepath.Join(home, ".tempo", "am.toml")},
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, struct{ label, path string }{"[PROJECT]", filepath.Join(cwd, "am.toml")})
	}
	for i, c := range candidates {
		state := "missing"
		if _, err := os.Stat(c.path); err == nil {
			state = "found"
		}
		fmt.Printf("  %d. %s %s (%s)\n", i+2, c.label, c.path, state)
	}
	fmt.Printf("  %d. [ENV]      TEMPO_* environment variables\n", len(candidates)+2)
	fmt.Println()

	if ConfigPath != "" {
		fmt.Printf("--config overrides the cascade: %s\n", ConfigPath)
	} else if active := am.ActiveConfigPath(); active != "" {
		fmt.Printf("Watched for changes by serve: %s\n", active)
	} else {
		fmt.Println("No config file found; running on defaults")
	}
	return nil
}

// loadUnvalidated loads without validating so a broken config can be shown.
func loadUnvalidated() (*am.Config, error) {
	if ConfigPath != "" {
		return am.LoadFromFile(ConfigPath)
	}
	return am.Load()
}
