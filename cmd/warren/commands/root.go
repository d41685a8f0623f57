package commands

import (
	"fmt"
	"os"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/printer"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath string
	rootDir    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Warren - partitioned Lua script host",
	Long: `Warren hosts Lua scripts for a partitioned game server. One authority
interpreter compiles every script once; each partition gets its own interpreter
that reuses the authority's bytecode.

Use warren to inspect and precompile a script tree locally, or to operate a
running warrend daemon over its Redis admin channel.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "warren.yml", "Path to warren.yml")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", "", "Script root (overrides scripts.root)")
}

// loadConfig reads the config file. When --root is given and no config file exists,
// a default configuration for that root is used instead.
func loadConfig() (*config.WarrenConfig, error) {
	if rootDir != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			cfg := &config.WarrenConfig{Version: "1.0", Scripts: config.ScriptsConfig{Root: rootDir}}
			if err := cfg.Validate(); err != nil {
				return nil, printer.Error("invalid script root", err.Error(), nil)
			}
			return cfg, nil
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.Error(
			"failed to load configuration",
			err.Error(),
			[]string{
				fmt.Sprintf("Create %s with at least:\n    version: \"1.0\"\n    scripts:\n      root: ./scripts", configPath),
				"Point at a script tree directly:\n    warren <command> --root ./scripts",
			},
		)
	}

	if rootDir != "" {
		cfg.Scripts.Root = rootDir
		if err := cfg.Validate(); err != nil {
			return nil, printer.Error("invalid script root", err.Error(), nil)
		}
	}
	return cfg, nil
}
