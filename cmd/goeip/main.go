// Command goeip is a single CLI consolidating the ad-hoc read/write/
// scan/identity tools the library grew over time into cobra
// subcommands sharing one connection-building flag set.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "goeip",
		Short:         "EtherNet/IP client for Rockwell ControlLogix/CompactLogix PLCs",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().String("addr", "", "controller IP address")
	root.PersistentFlags().Int("port", 0, "controller TCP port (default 44818)")
	root.PersistentFlags().Int("slot", 0, "backplane slot number")
	root.PersistentFlags().Bool("direct", false, "skip Forward Open, use unconnected messaging only")
	root.PersistentFlags().Bool("large-packets", false, "negotiate Large Forward Open (4 KB connection size)")
	root.PersistentFlags().Duration("timeout", 0, "request timeout (default 5s)")
	root.PersistentFlags().String("config", "", "connection profile YAML file")
	root.PersistentFlags().String("profile", "", "profile name within --config to use")
	root.PersistentFlags().String("log-level", "info", "debug, info, warn, or error")

	root.AddCommand(
		newReadCmd(),
		newWriteCmd(),
		newListTagsCmd(),
		newListIdentityCmd(),
		newScanCmd(),
	)
	return root
}
