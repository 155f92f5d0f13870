package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumen-dev/lumen/internal/config"
)

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [root]",
		Short: "Create a lumen.json in the current directory",
		Long: `Create a lumen.json with default settings.

The watch root defaults to "src"; pass a different root as the first
argument.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "src"
			if len(args) == 1 {
				root = args[0]
			}
			return runInit(root, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing lumen.json")

	return cmd
}

func runInit(root string, force bool) error {
	if _, err := os.Stat(config.ConfigFileName); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", config.ConfigFileName)
	}

	cfg := config.Default(root)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if err := os.WriteFile(config.ConfigFileName, data, 0o644); err != nil {
		return err
	}

	success("Created %s", config.ConfigFileName)
	info("Watch root: %s", root)
	info("Run `lumen dev` to start the loop")
	return nil
}
