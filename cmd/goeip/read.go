package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <tag> [tag...]",
		Short: "Read one or more tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openFromFlags(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()

			if len(args) == 1 {
				tag, err := conn.ReadTag(args[0])
				if err != nil {
					return fmt.Errorf("read %s: %w", args[0], err)
				}
				printTag(cmd, tag.Name, tag.Type, tag.Value, nil)
				return nil
			}

			results, err := conn.ReadAll(args)
			if err != nil {
				return fmt.Errorf("read all: %w", err)
			}
			for _, tag := range results {
				printTag(cmd, tag.Name, tag.Type, tag.Value, tag.Err)
			}
			return nil
		},
	}
	return cmd
}
