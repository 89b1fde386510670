package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-identity",
		Short: "Read the controller's ListIdentity response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openFromFlags(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()

			ident, err := conn.ReadIdentity()
			if err != nil {
				return fmt.Errorf("read identity: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Product Name:  %s\n", ident.ProductName)
			fmt.Fprintf(out, "Vendor ID:     %d\n", ident.VendorID)
			fmt.Fprintf(out, "Device Type:   %d\n", ident.DeviceType)
			fmt.Fprintf(out, "Product Code:  %d\n", ident.ProductCode)
			fmt.Fprintf(out, "Revision:      %d.%d\n", ident.Revision[0], ident.Revision[1])
			fmt.Fprintf(out, "Serial Number: 0x%08X\n", ident.SerialNumber)
			fmt.Fprintf(out, "Status:        0x%04X\n", ident.Status)
			return nil
		},
	}
	return cmd
}
