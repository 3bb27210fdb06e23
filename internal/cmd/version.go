package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for commit, build date and toolchain versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(cmd.OutOrStdout(), extended)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}

// writeVersion prints "<binary> <version>", followed by labelled build and
// toolchain lines when extended is set.
func writeVersion(w io.Writer, extended bool) error {
	name := "fairway"
	if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
		name = identity.BinaryName
	}
	if _, err := fmt.Fprintf(w, "%s %s\n", name, versionInfo.Version); err != nil || !extended {
		return err
	}

	deps := crucible.GetVersion()
	groups := [][][2]string{
		{{"Commit", versionInfo.Commit}, {"Built", versionInfo.BuildDate}, {"Go", runtime.Version()}},
		{{"Gofulmen", deps.Gofulmen}, {"Crucible", deps.Crucible}},
	}
	for i, group := range groups {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		for _, field := range group {
			if _, err := fmt.Fprintf(w, "%s: %s\n", field[0], field[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
