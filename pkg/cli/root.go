// Package cli implements the protolens command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/protolens/protolens/pkg/config"
	"github.com/protolens/protolens/pkg/logging"
	"github.com/protolens/protolens/pkg/version"
)

var (
	cfgManager = config.NewManager()
	cfgFile    string
)

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "protolens",
		Short:         "Classify network byte streams by protocol",
		Long:          "Protolens inspects the leading bytes of a connection and classifies it\ninto a protocol with a confidence score, for dispatch at acceptance time.",
		Version:       version.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfgManager.Load(cmd.Flags(), cfgFile); err != nil {
				return err
			}
			cfg := cfgManager.Get()
			return logging.Configure(cfg.Log.Level, cfg.Log.Format)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "path to a YAML config file")
	pf.String("log.level", "info", "log level (trace|debug|info|warn|error)")
	pf.String("log.format", "text", "log format (text|json)")
	pf.StringSlice("detector.protocols", nil, "protocols to enable (default: all)")
	pf.String("detector.strategy", "", "probe strategy (passive|active|hybrid)")
	pf.String("detector.preset", "", "tuning preset (balanced|high_performance|high_accuracy)")
	pf.String("detector.timeout", "", "per-call detection deadline, e.g. 50ms")
	pf.Float64("detector.min_confidence", 0, "winner confidence gate in [0,1]")
	pf.Int("detector.min_window", 0, "smallest accepted window in bytes")
	pf.Bool("detector.heuristic", false, "enable the textual/binary fallback probe")
	pf.String("detector.catalog_path", "", "YAML file with custom signatures")

	root.AddCommand(newDetectCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newProtocolsCmd())
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		return 1
	}
	return 0
}
