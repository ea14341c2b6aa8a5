package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/originpath/assocpipeline/internal/config"
)

var flagInitConfigOut string

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a starter config.yaml populated with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteExample(flagInitConfigOut); err != nil {
			return fmt.Errorf("write example config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", flagInitConfigOut)
		return nil
	},
}

func init() {
	initConfigCmd.Flags().StringVar(&flagInitConfigOut, "out", "config.yaml", "path to write the starter config file")
	rootCmd.AddCommand(initConfigCmd)
}
