package cli

import (
	"fmt"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/protolens/protolens/pkg/agent"
	"github.com/protolens/protolens/pkg/protocol"
)

func newProbeCmd() *cobra.Command {
	var dialTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe <host:port>",
		Short: "Actively probe a peer's protocol capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			det, err := buildDetector()
			if err != nil {
				return err
			}

			ag, err := agent.New(agent.Options{
				Detector: det,
				Role:     agent.RoleClient,
				Logger:   log.Logger,
			})
			if err != nil {
				return err
			}

			conn, err := net.DialTimeout("tcp", args[0], dialTimeout)
			if err != nil {
				return fmt.Errorf("dialing %s: %w", args[0], err)
			}
			defer conn.Close()

			confirmed, err := ag.ProbeCapabilities(cmd.Context(), agent.NewConnTransport(conn))
			if err != nil {
				return err
			}
			if len(confirmed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("no protocol capabilities confirmed"))
				return nil
			}
			for _, tag := range confirmed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n",
					color.GreenString(tag.Display()), tag.ShortCode())
			}
			chosen := ag.Negotiate(confirmed, []protocol.Tag{protocol.HTTP2, protocol.HTTP11})
			fmt.Fprintf(cmd.OutOrStdout(), "negotiated: %s\n", color.CyanString(chosen.Display()))
			return nil
		},
	}

	cmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 5*time.Second, "TCP dial timeout")
	return cmd
}
