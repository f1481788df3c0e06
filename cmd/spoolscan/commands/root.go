package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/spoolscan/internal/config"
	"github.com/dyluth/spoolscan/internal/keyderiv"
	"github.com/dyluth/spoolscan/internal/printer"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

var (
	version string
	commit  string
	date    string

	configPath   string
	outputFormat string
	logFormat    string
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spoolscan",
	Short: "spoolscan - read and decode filament spool RFID tags",
	Long: `spoolscan reads the RFID tag on a 3D-printer filament spool and decodes
it into a structured record: manufacturer, material, colour, temperatures,
weight and dimensions.

Supported formats are Bambu Lab (HKDF-keyed MIFARE Classic), Creality CFS
and open NDEF tags (OpenTag3D, OpenPrintTag, OpenSpool). Tags are read from
raw 1K dumps as saved by Proxmark or Flipper tools.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: validateGlobalFlags,
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to spoolscan.yml (default: ./spoolscan.yml if present)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", printer.OutputDefault, "Output format: default or json")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log scan progress at debug level")
}

func validateGlobalFlags(cmd *cobra.Command, args []string) error {
	if !printer.ValidOutput(outputFormat) {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", outputFormat),
			[]string{"Valid formats: default, json"},
		)
	}
	if logFormat != "text" && logFormat != "json" {
		return printer.Error(
			"invalid log format",
			fmt.Sprintf("Unknown log format: %s", logFormat),
			[]string{"Valid log formats: text, json"},
		)
	}
	return nil
}

// loadConfig loads --config, falling back to defaults when no file exists
// at the default location.
func loadConfig() (*config.SpoolscanConfig, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		path := configPath
		if path == "" {
			path = config.DefaultPath
		}
		return nil, printer.ErrorWithContext(
			"failed to load configuration",
			err.Error(),
			map[string]string{"Config": path},
			[]string{"Fix the file, or run without --config to use the defaults"},
		)
	}
	return cfg, nil
}

// newLogger builds the structured logger. Scan progress is logged at debug
// level and only shown with --verbose.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func writeResult(cmd *cobra.Command, res spooltag.ScanResult) error {
	if outputFormat == printer.OutputJSON {
		return printer.FormatJSON(cmd.OutOrStdout(), res)
	}
	printer.FormatResult(cmd.OutOrStdout(), res)
	return nil
}

// resultError turns an unsuccessful scan into a non-zero exit. The result
// itself has already been printed.
func resultError(res spooltag.ScanResult) error {
	if res.OK() {
		return nil
	}
	return fmt.Errorf("scan finished with %s", res.Kind)
}

func parseUID(s string) ([]byte, error) {
	uid, err := hex.DecodeString(strings.TrimSpace(s))
	if err == nil && !keyderiv.ValidUIDLength(len(uid)) {
		err = fmt.Errorf("%d bytes", len(uid))
	}
	if err != nil {
		return nil, printer.Error(
			"invalid UID",
			fmt.Sprintf("%q is not a tag UID (%v).", s, err),
			[]string{"UIDs are 4, 7 or 10 bytes of hex, e.g. 5A3C910E"},
		)
	}
	return uid, nil
}
