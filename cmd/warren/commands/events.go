package commands

import (
	"fmt"
	"strings"

	"github.com/dyluth/warren/internal/event"
	"github.com/dyluth/warren/internal/printer"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events [category]",
	Short: "List the event ids scripts can register for",
	Long: `List every event category with its events and numeric ids, as scripts see
them in the Events table. Keyed categories are registered per entity entry.

Pass a category name (for example Creature) to show only that category.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	var rows [][]string
	for _, info := range event.Categories() {
		if len(args) == 1 && !strings.EqualFold(args[0], info.Name) {
			continue
		}
		keyed := "no"
		if info.Keyed {
			keyed = "yes"
		}
		for _, name := range info.Category.EventNames() {
			id, _ := info.Category.EventID(name)
			rows = append(rows, []string{info.Name, name, fmt.Sprint(id), keyed})
		}
	}

	if len(rows) == 0 {
		return printer.Error(
			fmt.Sprintf("unknown event category %q", args[0]),
			"No event category has that name.",
			[]string{"Run 'warren events' to see every category"},
		)
	}

	printer.Table([]string{"CATEGORY", "EVENT", "ID", "KEYED"}, rows)
	return nil
}
