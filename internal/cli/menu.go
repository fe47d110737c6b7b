package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/cafesync/internal/menu"
)

// MenuOptions holds flags for the menu command.
type MenuOptions struct {
	*RootOptions
	Check bool
}

// MenuResult is the JSON form of a catalog.
type MenuResult struct {
	Source string      `json:"source"`
	Items  []menu.Item `json:"items"`
}

// NewMenuCommand creates the menu command.
func NewMenuCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MenuOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "menu [menu.cue]",
		Short: "Show or check a CUE menu",
		Long: `Show a CUE menu, or the built-in house menu when no file is given.

The file is checked against the menu schema: unique positive ids, a
non-empty name, a non-negative price, a known category and a positive
preparation time.

Exit codes:
  0 - The menu is valid
  1 - The menu violates the schema
  2 - Command error (file not found, etc.)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runMenu(opts, path, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Check, "check", false, "only report whether the menu is valid")

	return cmd
}

func runMenu(opts *MenuOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	source := "house menu"
	catalog := menu.Default()
	if path != "" {
		source = path
		if err := requireFile(path); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "menu file not found", err)
		}
		var err error
		if catalog, err = menu.LoadFile(path); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeMenu, "invalid menu", err)
		}
	}
	formatter.VerboseLog("loaded %d item(s) from %s", catalog.Len(), source)

	if opts.Check {
		if formatter.IsJSON() {
			return formatter.Success(map[string]any{"valid": true, "items": catalog.Len()})
		}
		return formatter.Success(fmt.Sprintf("✓ %s is valid (%d items)", source, catalog.Len()))
	}

	if formatter.IsJSON() {
		return formatter.Success(MenuResult{Source: source, Items: catalog.All()})
	}

	w := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tPRICE\tPREP")
	for _, item := range catalog.All() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			item.ID, item.Name, item.Category, item.Price.StringFixed(2), item.PrepTime)
	}
	return tw.Flush()
}
