package commands

import (
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/dyluth/spoolscan/internal/hardware"
	"github.com/dyluth/spoolscan/internal/printer"
	"github.com/dyluth/spoolscan/internal/publish"
	"github.com/dyluth/spoolscan/internal/scan"
)

var (
	scanDump      string
	scanUID       string
	scanNoPublish bool
)

var scanCmd = &cobra.Command{
	Use:   "scan --dump <dump.bin>",
	Short: "Run a full scan against an emulated tag",
	Long: `Run a complete scan (authenticate, read, detect, decode) against a tag
emulated from a raw 1K dump. Only sectors whose trailer keys match the
derived or fallback keys are read, exactly as with a real reader.

When publish.redis_url is configured the result is published to Redis.

Examples:
  spoolscan scan --dump spool.bin
  spoolscan scan --dump spool.bin --verbose --log-format=json
  spoolscan scan --dump spool.bin --no-publish --output=json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanDump, "dump", "", "Raw 1024-byte dump to emulate (required)")
	scanCmd.Flags().StringVar(&scanUID, "uid", "", "Tag UID in hex (default: first 4 bytes of block 0)")
	scanCmd.Flags().BoolVar(&scanNoPublish, "no-publish", false, "Do not publish the result even if Redis is configured")
	scanCmd.MarkFlagRequired("dump")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scanCfg, err := cfg.ScannerConfig()
	if err != nil {
		return err
	}

	dump, err := readDump(scanDump)
	if err != nil {
		return err
	}
	var uid []byte
	if scanUID != "" {
		if uid, err = parseUID(scanUID); err != nil {
			return err
		}
	}
	link, err := hardware.NewDumpLink(dump, uid)
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), slog.LevelWarn)
	opts := []scan.Option{scan.WithLogger(logger)}
	if verbose {
		opts = append(opts, scan.WithObserver(func(tr scan.Transition) {
			printer.Step("%s\n", tr.To)
		}))
	}

	if cfg.Publish.RedisURL != "" && !scanNoPublish {
		pub, err := publish.NewPublisherFromURL(cfg.Publish.RedisURL, cfg.Publish.Instance,
			publish.WithTTL(cfg.Publish.TTL), publish.WithLogger(logger))
		if err != nil {
			return printer.Error(
				"invalid publish configuration",
				err.Error(),
				[]string{"Check publish.redis_url in spoolscan.yml", "Run with --no-publish"},
			)
		}
		defer pub.Close()
		opts = append(opts, scan.WithPublisher(pub))
	}

	scanner, err := scan.New(link, scanCfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res := scanner.Scan(ctx)
	if err := writeResult(cmd, res); err != nil {
		return err
	}
	return resultError(res)
}
