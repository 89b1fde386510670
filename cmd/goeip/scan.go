package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iceisfun/goeip/pkg/catalog"
	"github.com/iceisfun/goeip/pkg/plc"
)

// newScanCmd walks the full tag directory: controller scope, every
// program's scope, and resolves the UDT descriptor behind any
// struct-typed tag it finds.
func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Walk the controller and program tag directories, resolving UDTs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openFromFlags(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()

			out := cmd.OutOrStdout()
			seenUDTs := make(map[uint32]bool)

			controllerTags, err := conn.ListTags("")
			if err != nil {
				return fmt.Errorf("scan controller tags: %w", err)
			}
			fmt.Fprintf(out, "== Controller scope (%d tags) ==\n", len(controllerTags))
			for _, t := range controllerTags {
				fmt.Fprintf(out, "%s\n", t.Name)
				if t.IsStruct() {
					describeUDT(cmd, conn, t.TemplateInstanceID(), seenUDTs)
				}
			}

			for _, program := range conn.Catalog().Programs() {
				programTags, err := conn.ListTags(program)
				if err != nil {
					return fmt.Errorf("scan program %s: %w", program, err)
				}
				fmt.Fprintf(out, "== Program:%s (%d tags) ==\n", program, len(programTags))
				for _, t := range programTags {
					fmt.Fprintf(out, "%s\n", t.Name)
					if t.IsStruct() {
						describeUDT(cmd, conn, t.TemplateInstanceID(), seenUDTs)
					}
				}
			}
			return nil
		},
	}
	return cmd
}

func describeUDT(cmd *cobra.Command, conn *plc.Connection, instanceID uint32, seen map[uint32]bool) {
	if seen[instanceID] {
		return
	}
	seen[instanceID] = true

	udt, err := conn.Catalog().ResolveUDT(instanceID)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  (UDT#%d: resolve failed: %v)\n", instanceID, err)
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  UDT %s (#%d, %d bytes, %d members)\n", udt.Name, udt.InstanceID, udt.StructureSize, len(udt.Members))
	for _, m := range udt.Members {
		if m.IsPadding() {
			continue
		}
		fmt.Fprintf(out, "    %s: %s\n", m.Name, memberTypeName(m))
	}
}

func memberTypeName(m catalog.Member) string {
	if m.TemplateID != 0 {
		return fmt.Sprintf("UDT#%d", m.TemplateID)
	}
	return m.Type.String()
}
