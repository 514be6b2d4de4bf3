package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/protolens/protolens/pkg/detect"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// detectReport is the serializable verdict shape for json/yaml output.
type detectReport struct {
	Protocol   string            `json:"protocol" yaml:"protocol"`
	Display    string            `json:"display" yaml:"display"`
	Confidence float64           `json:"confidence" yaml:"confidence"`
	Method     string            `json:"method" yaml:"method"`
	Probe      string            `json:"probe" yaml:"probe"`
	ElapsedUs  int64             `json:"elapsed_us" yaml:"elapsed_us"`
	Features   map[string]string `json:"features,omitempty" yaml:"features,omitempty"`
}

func newDetectCmd() *cobra.Command {
	var (
		hexInput     string
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "detect [file]",
		Short: "Classify a byte window from a file, stdin, or a hex string",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := readWindow(args, hexInput)
			if err != nil {
				return err
			}

			det, err := buildDetector()
			if err != nil {
				return err
			}

			log.Debug().Int("window", len(window)).Msg("running detection")
			res, err := det.Detect(window)
			if err != nil {
				if _, ok := detect.IsRetryable(err); ok {
					return fmt.Errorf("%w (have %d bytes)", err, len(window))
				}
				return err
			}

			report := detectReport{
				Protocol:   string(res.Tag()),
				Display:    res.Tag().Display(),
				Confidence: res.Confidence(),
				Method:     res.Method.String(),
				Probe:      res.ProbeName,
				ElapsedUs:  res.Elapsed.Microseconds(),
				Features:   res.Info.Features.Map(),
			}
			return writeReport(cmd.OutOrStdout(), report, outputFormat)
		},
	}

	cmd.Flags().StringVar(&hexInput, "hex", "", "classify a hex-encoded byte string instead of a file")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "output format (text|json|yaml)")
	return cmd
}

// readWindow resolves the input bytes: --hex wins, then a file argument,
// then stdin.
func readWindow(args []string, hexInput string) ([]byte, error) {
	if hexInput != "" {
		raw, err := hex.DecodeString(strings.ReplaceAll(hexInput, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("decoding --hex input: %w", err)
		}
		return raw, nil
	}
	if len(args) == 1 && args[0] != "-" {
		return os.ReadFile(args[0])
	}
	return io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
}

func buildDetector() (*detect.Detector, error) {
	opts, err := cfgManager.Get().Detector.DetectorOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = log.Logger
	return detect.New(opts)
}

func writeReport(w io.Writer, report detectReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		return yaml.NewEncoder(w).Encode(report)
	case "text":
		fmt.Fprintf(w, "%s  %s\n",
			color.GreenString("%-12s", report.Display),
			color.New(color.Faint).Sprintf("confidence=%.2f method=%s probe=%s elapsed=%dµs",
				report.Confidence, report.Method, report.Probe, report.ElapsedUs))
		for k, v := range report.Features {
			fmt.Fprintf(w, "  %s: %s\n", k, v)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
