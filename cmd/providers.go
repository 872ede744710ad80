package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/intel-cache/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List declared providers and whether they are configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := initRegistry()
		if err != nil {
			return err
		}
		formatProviders(cmd.OutOrStdout(), reg.Entries())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func formatProviders(out io.Writer, entries []provider.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tBACKEND\tMODEL\tUNIT COST\tCAPABILITIES\tCONFIGURED")
	_, _ = fmt.Fprintln(w, "----\t-------\t-----\t---------\t------------\t----------")

	for _, e := range entries {
		caps := make([]string, len(e.Capabilities))
		for i, c := range e.Capabilities {
			caps[i] = string(c)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%s\t%t\n",
			e.Name,
			e.Spec.Backend,
			e.Model,
			e.UnitCost,
			strings.Join(caps, ","),
			e.Configured,
		)
	}
	_ = w.Flush()
}
