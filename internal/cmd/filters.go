package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/imagex/internal/codec"
	"github.com/MeKo-Tech/imagex/internal/filter"
)

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "List the available color filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, k := range filter.Kinds() {
			fmt.Fprintln(out, k)
		}
		if formats, _ := cmd.Flags().GetBool("formats"); formats {
			fmt.Fprintln(out)
			for _, f := range codec.Formats() {
				fmt.Fprintf(out, "%s (.%s, %s)\n", f, f.Extension(), f.ContentType())
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(filtersCmd)
	filtersCmd.Flags().Bool("formats", false, "Also list the export formats")
}
