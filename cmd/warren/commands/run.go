package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/warren/internal/host"
	"github.com/dyluth/warren/internal/instance"
	"github.com/dyluth/warren/internal/partition"
	"github.com/dyluth/warren/internal/printer"
	"github.com/spf13/cobra"
)

var (
	runPartitions []string
	runTicks      int
	runExec       []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the script tree in-process and drive it",
	Long: `Start an authority runtime from the script tree, create the requested
partitions, fire server ticks and run inline snippets, then print a summary.

Snippets run in the authority unless prefixed with a partition and a colon.

Examples:
  warren run --root ./scripts
  warren run --partition 1 --partition 2 --ticks 10
  warren run -p 2 -e '2:print(GetPartitionKey())'`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runPartitions, "partition", "p", nil, "Partition to create (repeatable)")
	runCmd.Flags().IntVarP(&runTicks, "ticks", "t", 0, "Number of 100ms server ticks to fire")
	runCmd.Flags().StringArrayVarP(&runExec, "exec", "e", nil, "Inline Lua to execute, optionally prefixed with PARTITION:")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	h, err := host.New(cfg, nil)
	if err != nil {
		return printer.Error("failed to create host", err.Error(), nil)
	}
	defer h.Close()

	printer.Step("Loading scripts from %s\n", cfg.Scripts.Root)
	if err := h.Start(); err != nil {
		return printer.Error("authority failed to start", err.Error(), nil)
	}

	for _, raw := range runPartitions {
		key, err := partition.Parse(raw)
		if err != nil {
			return printer.Error("invalid partition", err.Error(), nil)
		}
		if err := h.PartitionCreated(key); err != nil {
			return printer.Error(fmt.Sprintf("failed to create %s", key), err.Error(), nil)
		}
	}

	for i := 0; i < runTicks; i++ {
		h.Tick(100 * time.Millisecond)
	}

	for _, snippet := range runExec {
		key, source := splitSnippet(snippet)
		if err := h.Execute(key, source); err != nil {
			printer.Warning("%s: %v\n", key, err)
		}
	}

	printRuntimes(h.Runtimes())
	return nil
}

// splitSnippet separates an optional "PARTITION:" prefix from inline source.
func splitSnippet(s string) (partition.Key, string) {
	for i := 0; i < len(s); i++ {
		if s[i] != ':' {
			continue
		}
		if key, err := partition.Parse(s[:i]); err == nil {
			return key, s[i+1:]
		}
		break
	}
	return partition.Authority, s
}

func printRuntimes(summaries []instance.Summary) {
	if len(summaries) == 0 {
		printer.Warning("No runtimes\n")
		return
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Key.String(),
			string(s.Role),
			string(s.State),
			fmt.Sprint(s.Scripts),
			fmt.Sprint(s.Callbacks),
			fmt.Sprintf("%d/%d/%d/%d", s.Compiled, s.Cached, s.Precompiled, s.Failed),
		})
	}
	printer.Table([]string{"PARTITION", "ROLE", "STATE", "SCRIPTS", "CALLBACKS", "COMPILED/CACHED/PRE/FAILED"}, rows)
}
