package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/intel-cache/internal/canon"
)

var canonCmd = &cobra.Command{
	Use:   "canon <url>",
	Short: "Print the canonical form and cache key of a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		canonical, key, err := canon.KeyFor(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", canonical, key)
		return err
	},
}

func init() {
	rootCmd.AddCommand(canonCmd)
}
