package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/warren/internal/bytecode"
	"github.com/dyluth/warren/internal/loader"
	"github.com/dyluth/warren/internal/printer"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compile every script without running it",
	Long: `Compile every script under the root and report syntax errors.

Nothing is executed, so runtime errors in top-level code are not detected.
Exits non-zero if any script fails to compile.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// discard accepts chunks without running them.
type discard struct{}

func (discard) Inject(string, *bytecode.Chunk) error { return nil }

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scripts, err := loader.Discover(cfg.Scripts.Root)
	if err != nil {
		return printer.Error("failed to discover scripts", err.Error(), nil)
	}

	var transpiler loader.Transpiler
	if len(cfg.Scripts.Transpiler) > 0 {
		transpiler = &loader.CommandTranspiler{Command: cfg.Scripts.Transpiler}
	}
	l := loader.New(bytecode.NewCache(nil), bytecode.NewCompiler(), transpiler)

	var stats loader.Statistics
	start := time.Now()
	for _, script := range scripts {
		outcome, err := l.LoadInto(discard{}, script)
		printer.Outcome(script.Rel, outcome, err)
		switch outcome {
		case loader.OutcomeCompiled:
			stats.Compiled++
		case loader.OutcomePrecompiled:
			stats.Precompiled++
		case loader.OutcomeCached:
			stats.Cached++
		default:
			stats.Failed++
		}
	}
	stats.Duration = time.Since(start)
	printer.Statistics(stats)

	if stats.Failed > 0 {
		return printer.Error(
			fmt.Sprintf("%d of %d script(s) failed to compile", stats.Failed, len(scripts)),
			"",
			nil,
		)
	}
	printer.Success("%d script(s) compiled\n", len(scripts))
	return nil
}
