package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWriteCmd() *cobra.Command {
	var typeName string
	cmd := &cobra.Command{
		Use:   "write <tag> <value>",
		Short: "Write a single tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(typeName, args[1])
			if err != nil {
				return err
			}

			conn, err := openFromFlags(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()

			tag, err := conn.WriteTag(args[0], value)
			if err != nil {
				return fmt.Errorf("write %s: %w", args[0], err)
			}
			printTag(cmd, tag.Name, tag.Type, tag.Value, nil)
			return nil
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "DINT", "CIP data type of the value (BOOL, SINT, INT, DINT, LINT, REAL, LREAL, STRING, ...)")
	return cmd
}
