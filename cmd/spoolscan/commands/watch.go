package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/spoolscan/internal/printer"
	"github.com/dyluth/spoolscan/internal/watch"
)

var (
	watchFilters filterFlags
	watchWait    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow scan results published to Redis",
	Long: `Follow scan results as they are published by 'spoolscan scan' and
'spoolscan serve'. Requires publish.redis_url in spoolscan.yml.

With --wait, block until the tag named by --tag has a cached result that
matches the filters, print it and exit.

Output Formats:
  default - One line per result with a timestamp and an outcome marker
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Follow every scan
  spoolscan watch

  # Only successful PETG reads
  spoolscan watch --kind success --material 'PETG*'

  # Wait up to a minute for a particular spool to be scanned
  spoolscan watch --tag 5A3C910E --wait 1m --since 5m`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchFilters.register(watchCmd)
	watchCmd.Flags().DurationVar(&watchWait, "wait", 0, "Wait this long for --tag to be scanned, then exit")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	criteria, err := watchFilters.criteria()
	if err != nil {
		return err
	}
	if watchWait > 0 && watchFilters.tag == "" {
		return printer.Error(
			"--wait requires --tag",
			"Waiting only makes sense for a single tag.",
			[]string{"Name the tag to wait for:\n  spoolscan watch --tag 5A3C910E --wait 1m"},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, err := connectStore(ctx, cfg, "watch")
	if err != nil {
		return err
	}
	defer pub.Close()

	format := watch.OutputFormat(outputFormat)
	if watchWait > 0 {
		res, err := watch.PollForTag(ctx, pub, watchFilters.tag, criteria, watchWait)
		if err != nil {
			return err
		}
		return watch.WriteEvent(cmd.OutOrStdout(), *res, format)
	}

	sub, err := pub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to scan events: %w", err)
	}
	defer sub.Close()

	return watch.Stream(ctx, sub, criteria, format, cmd.OutOrStdout(), cmd.ErrOrStderr())
}
