package commands

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/warren/internal/bytecode"
	"github.com/dyluth/warren/internal/printer"
	"github.com/spf13/cobra"
)

var compileOutput string

var compileCmd = &cobra.Command{
	Use:   "compile FILE",
	Short: "Precompile a Lua script to a binary .out chunk",
	Long: `Compile FILE and write its bytecode as a binary chunk.

The daemon loads .out files without compiling them. By default the output is
written next to the source with its extension replaced by .out.

Examples:
  warren compile scripts/boss.lua
  warren compile scripts/boss.lua -o build/boss.out`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "", "Output path (default: FILE with .out extension)")
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	src := args[0]
	out := compileOutput
	if out == "" {
		out = strings.TrimSuffix(src, filepath.Ext(src)) + ".out"
	}

	chunk, err := bytecode.NewCompiler().CompileFile(src)
	if err != nil {
		return printer.Error("failed to compile "+src, err.Error(), nil)
	}

	data, err := bytecode.Dump(chunk)
	if err != nil {
		return printer.Error("failed to encode bytecode", err.Error(), nil)
	}

	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return printer.Error("failed to create output directory", err.Error(), nil)
		}
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return printer.Error("failed to write "+out, err.Error(), nil)
	}

	printer.Success("Wrote %s (%d bytes)\n", out, len(data))
	return nil
}
