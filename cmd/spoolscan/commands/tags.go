package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/spoolscan/internal/history"
	"github.com/dyluth/spoolscan/internal/printer"
	"github.com/dyluth/spoolscan/internal/resolver"
)

var tagsFilters filterFlags

var tagsCmd = &cobra.Command{
	Use:   "tags [uid-prefix]",
	Short: "List or show cached tag results",
	Long: `List the latest cached result for every tag, or show one tag in full.

Every published scan that identifies a tag is cached in Redis for
publish.ttl. Without an argument, all cached tags are listed oldest first.
With a UID prefix (at least 4 hex digits) the matching tag is shown.

Examples:
  # List every cached tag
  spoolscan tags

  # Only PLA scanned in the last hour, as JSON lines
  spoolscan tags --material 'PLA*' --since 1h --output=json

  # Show one tag
  spoolscan tags 5A3C91`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTags,
}

func init() {
	tagsFilters.register(tagsCmd)
	rootCmd.AddCommand(tagsCmd)
}

func runTags(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		criteria, err := tagsFilters.criteria()
		if err != nil {
			return err
		}
		pub, err := connectStore(cmd.Context(), cfg, "tags")
		if err != nil {
			return err
		}
		defer pub.Close()

		return history.ListTags(cmd.Context(), pub, pub.InstanceName(),
			history.OutputFormat(outputFormat), criteria, cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	pub, err := connectStore(cmd.Context(), cfg, "tags")
	if err != nil {
		return err
	}
	defer pub.Close()

	res, err := history.GetTag(cmd.Context(), pub, args[0])
	if err != nil {
		switch {
		case history.IsNotFound(err):
			return printer.ErrorWithContext(
				"tag not found",
				err.Error(),
				map[string]string{"Instance": pub.InstanceName()},
				[]string{"List cached tags:\n  spoolscan tags", "Results expire after publish.ttl"},
			)
		case resolver.IsAmbiguousError(err):
			return printer.Error(
				"ambiguous UID prefix",
				resolver.FormatAmbiguousError(err.(*resolver.AmbiguousError)),
				[]string{"Use a longer prefix"},
			)
		}
		return err
	}
	return writeResult(cmd, *res)
}
