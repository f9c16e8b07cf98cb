package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBoxesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boxes",
		Short: "Manage savings boxes",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List savings boxes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session) error {
					list, err := s.boxes.List(ctx)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					if len(list) == 0 {
						fmt.Fprintln(out, "No boxes yet.")
						return nil
					}
					w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME")
					for _, box := range list {
						fmt.Fprintf(w, "%s\t%s\n", box.ID, box.Name)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "show ID",
			Short: "Show one savings box",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session) error {
					box, err := s.boxes.Get(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", box.ID, box.Name)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "create NAME",
			Short: "Create a savings box",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session) error {
					box, err := s.boxes.Create(ctx, strings.Join(args, " "))
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Created box %q (%s)\n", box.Name, box.ID)
					return nil
				})
			},
		},
	)
	return cmd
}
