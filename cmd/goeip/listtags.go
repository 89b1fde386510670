package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListTagsCmd() *cobra.Command {
	var program string
	cmd := &cobra.Command{
		Use:   "list-tags",
		Short: "List controller- or program-scoped tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openFromFlags(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()

			tags, err := conn.ListTags(program)
			if err != nil {
				return fmt.Errorf("list tags: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, t := range tags {
				kind := t.AtomicType().String()
				if t.IsStruct() {
					kind = fmt.Sprintf("UDT#%d", t.TemplateInstanceID())
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", t.Name, kind, t.ExternalAccess)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&program, "program", "", "list this program's tags instead of controller scope")
	return cmd
}
