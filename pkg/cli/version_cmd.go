package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sdlq/internal/useragent"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{
					"version": useragent.Version(),
					"commit":  useragent.Commit(),
				})
			}
			fmt.Fprintf(os.Stdout, "sdlq version %s (commit: %s)\n", useragent.Version(), useragent.Commit())
			return nil
		},
	}
}
