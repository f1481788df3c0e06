package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/spoolscan/internal/keyderiv"
	"github.com/dyluth/spoolscan/internal/printer"
)

var keysCmd = &cobra.Command{
	Use:   "keys <uid-hex>",
	Short: "Print the derived sector keys for a tag UID",
	Long: `Print the sixteen MIFARE Classic sector keys derived from a tag UID.

The keys are the ones a Bambu Lab spool tag is locked with and can be loaded
into a reader tool to dump the tag.

Examples:
  spoolscan keys 5A3C910E
  spoolscan keys 5A3C910E --output=json | jq -r '.keys[]'`,
	Args: cobra.ExactArgs(1),
	RunE: runKeys,
}

func init() {
	rootCmd.AddCommand(keysCmd)
}

type keysOutput struct {
	UID  string   `json:"uid"`
	Keys []string `json:"keys"`
}

func runKeys(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	uid, err := parseUID(args[0])
	if err != nil {
		return err
	}
	secret, err := cfg.Secret()
	if err != nil {
		return err
	}

	keys := keyderiv.NewDeriver(secret).DeriveKeys(uid)

	if outputFormat == printer.OutputJSON {
		out := keysOutput{UID: fmt.Sprintf("%X", uid), Keys: make([]string, len(keys))}
		for i, k := range keys {
			out.Keys[i] = k.String()
		}
		return printer.FormatJSON(cmd.OutOrStdout(), out)
	}
	printer.FormatKeys(cmd.OutOrStdout(), uid, keys)
	return nil
}
