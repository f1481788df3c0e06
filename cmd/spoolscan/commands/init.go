package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/spoolscan/internal/scaffold"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter spoolscan.yml",
	Long: `Write a spoolscan.yml into the current directory with every setting at
its default value and a comment explaining it.

Use --force to replace an existing spoolscan.yml (WARNING: destroys existing configuration).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Replace an existing spoolscan.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if err := scaffold.CheckExisting("."); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(".", forceInit, cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess(cmd.OutOrStdout())
	return nil
}
