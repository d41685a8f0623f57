package commands

import (
	"os"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/scaffold"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter warren project in the current directory",
	Long: `Create warren.yml, a scripts/ tree with an example script and a lib/
directory for modules loaded with require().`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing project")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	created, err := scaffold.Initialize(dir, initForce)
	if err != nil {
		return printer.Error("failed to initialize project", err.Error(), nil)
	}
	scaffold.PrintSuccess(created)
	return nil
}
