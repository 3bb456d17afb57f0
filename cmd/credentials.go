package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCredentialsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credentials",
		Short: "Prints the configured provider credentials, masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(appInstance App) error {
				return printCredentials(cmd, appInstance)
			})
		},
	}
}

func printCredentials(cmd *cobra.Command, appInstance App) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tKEYS\tUSES\tMASKED")
	for _, s := range appInstance.Credentials().Stats() {
		masked := make([]string, 0, len(s.PerKey))
		for _, k := range s.PerKey {
			masked = append(masked, k.Masked)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%v\n", s.Provider, s.Keys, s.TotalUses, masked)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}
