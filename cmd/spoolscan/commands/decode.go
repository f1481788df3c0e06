package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/spoolscan/internal/auth"
	"github.com/dyluth/spoolscan/internal/config"
	"github.com/dyluth/spoolscan/internal/format"
	"github.com/dyluth/spoolscan/internal/hardware"
	"github.com/dyluth/spoolscan/internal/keyderiv"
	"github.com/dyluth/spoolscan/internal/mifare"
	"github.com/dyluth/spoolscan/internal/printer"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

var (
	decodeUID    string
	decodeFormat string
)

var decodeCmd = &cobra.Command{
	Use:   "decode <dump.bin>",
	Short: "Decode a raw 1K tag dump offline",
	Long: `Decode a raw 1024-byte MIFARE Classic dump without emulating a read.

Every data block in the dump is used, including sectors the keys would not
open, so dumps taken with keys from elsewhere decode too. The format is
detected the same way a scan detects it (trailer keys in the dump are checked
against the derived keys); use --format to force a decoder.

Examples:
  spoolscan decode spool.bin
  spoolscan decode spool.bin --format=creality
  spoolscan decode spool.bin --uid=5A3C910E --output=json`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().StringVar(&decodeUID, "uid", "", "Tag UID in hex (default: first 4 bytes of block 0)")
	decodeCmd.Flags().StringVar(&decodeFormat, "format", "", "Force a format: bambu, creality or opentag")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dump, err := readDump(args[0])
	if err != nil {
		return err
	}
	uid := dump[:4]
	if decodeUID != "" {
		if uid, err = parseUID(decodeUID); err != nil {
			return err
		}
	}

	f := spooltag.TagFormat(strings.ToLower(decodeFormat))
	if decodeFormat != "" {
		if _, ok := format.DecoderFor(f); !ok {
			return printer.Error(
				"invalid format",
				fmt.Sprintf("Unknown format: %s", decodeFormat),
				[]string{"Valid formats: bambu, creality, opentag"},
			)
		}
	}

	logger := newLogger(cmd.ErrOrStderr(), slog.LevelWarn)
	res, err := decodeDump(cmd.Context(), cfg, logger, dump, uid, f)
	if err != nil {
		return err
	}
	if err := writeResult(cmd, res); err != nil {
		return err
	}
	return resultError(res)
}

// decodeDump decodes a whole dump. An empty format is detected.
func decodeDump(ctx context.Context, cfg *config.SpoolscanConfig, logger *slog.Logger, dump, uid []byte, f spooltag.TagFormat) (spooltag.ScanResult, error) {
	started := time.Now()
	img := mifare.ImageFromDump(dump)

	if f == "" {
		detected, err := detectDump(ctx, cfg, logger, dump, uid, img)
		if err != nil {
			return spooltag.ScanResult{}, err
		}
		f = detected
	}

	var res spooltag.ScanResult
	if f == spooltag.FormatUnknown {
		res = spooltag.InvalidTag()
	} else if rec, err := format.Decode(f, img, uid); err != nil {
		res = spooltag.ParsingError(err.Error())
	} else {
		res = spooltag.Success(rec)
	}

	res.TagUID = fmt.Sprintf("%X", uid)
	res.StartedAt = started.UTC()
	res.DurationMs = time.Since(started).Milliseconds()
	return res, nil
}

// detectDump checks the dump's trailer keys against the derived and
// fallback keys and runs detection on the result.
func detectDump(ctx context.Context, cfg *config.SpoolscanConfig, logger *slog.Logger, dump, uid []byte, img *mifare.Image) (spooltag.TagFormat, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return "", err
	}
	secret, err := cfg.Secret()
	if err != nil {
		return "", err
	}

	link, err := hardware.NewDumpLink(dump, uid)
	if err != nil {
		return "", err
	}
	if err := link.RequestTechnology(ctx); err != nil {
		return "", err
	}
	defer link.CancelTechnologyRequest()

	authn := auth.New(policy, logger)
	outcome, err := authn.Run(ctx, link, keyderiv.NewDeriver(secret).DeriveKeys(uid))
	if err != nil {
		return "", fmt.Errorf("failed to check dump keys: %w", err)
	}
	return format.NewDetector(authn.Policy().BambuSectors).Detect(img, outcome), nil
}

func readDump(path string) ([]byte, error) {
	dump, err := os.ReadFile(path)
	if err != nil {
		return nil, printer.Error(
			"failed to read dump",
			err.Error(),
			[]string{"Check the path to the .bin dump file"},
		)
	}
	if len(dump) != mifare.DumpSize {
		return nil, printer.ErrorWithContext(
			"invalid dump",
			fmt.Sprintf("A MIFARE Classic 1K dump is %d bytes, got %d.", mifare.DumpSize, len(dump)),
			map[string]string{"Dump": path},
			[]string{"Use the raw .bin dump, not the .eml/.json/.nfc export"},
		)
	}
	return dump, nil
}
