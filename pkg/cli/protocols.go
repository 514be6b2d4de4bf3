package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/protolens/protolens/pkg/protocol"
)

func newProtocolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List the protocols the engine can identify",
		RunE: func(cmd *cobra.Command, args []string) error {
			bold := color.New(color.Bold)
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-6s %-10s %s\n",
				bold.Sprint("PROTOCOL"), bold.Sprint("CODE"),
				bold.Sprint("TRANSPORT"), bold.Sprint("CATEGORY"))
			for _, tag := range protocol.All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-6s %-10s %s\n",
					tag.Display(), tag.ShortCode(),
					tag.Transport(), tag.Categorize())
			}
			return nil
		},
	}
}
