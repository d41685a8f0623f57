package commands

import (
	"github.com/dyluth/warren/internal/loader"
	"github.com/dyluth/warren/internal/printer"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List scripts in load order",
	Long: `List every script the authority would load, in load order.

Files load by kind first (.ext, then .lua, then .moon, then .out) and by
relative path within a kind. Hidden directories are skipped.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scripts, err := loader.Discover(cfg.Scripts.Root)
	if err != nil {
		return printer.Error("failed to discover scripts", err.Error(), nil)
	}

	if len(scripts) == 0 {
		printer.Warning("No scripts found under %s\n", cfg.Scripts.Root)
		return nil
	}

	rows := make([][]string, 0, len(scripts))
	for _, s := range scripts {
		rows = append(rows, []string{s.Rel, s.Kind.String()})
	}
	printer.Table([]string{"SCRIPT", "KIND"}, rows)
	return nil
}
