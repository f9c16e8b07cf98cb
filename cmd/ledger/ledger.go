package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"pocket-ledger/pkg/ledger"

	"github.com/spf13/cobra"
)

func newBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the current balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				balance, err := s.ledger.Balance(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), balance)
				return nil
			})
		},
	}
}

func newDepositCmd(a *app) *cobra.Command {
	var description, source string

	cmd := &cobra.Command{
		Use:   "deposit AMOUNT",
		Short: "Add money to the balance",
		Long: `Record a deposit. AMOUNT is a decimal such as 50, 12.5 or 12,50.
Without a description the entry reads "` + ledger.DefaultDepositDescription + `".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := ledger.ParseAmount(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				receipt, err := s.ledger.DepositFrom(ctx, amount, description, source)
				if err != nil {
					return err
				}
				printReceipt(cmd.OutOrStdout(), receipt)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "What the money is for")
	cmd.Flags().StringVar(&source, "source", "", "Where the money came from")
	return cmd
}

func newTransferCmd(a *app) *cobra.Command {
	return newMovementCmd(a, "transfer", "Send money out of the balance",
		func(ctx context.Context, l *ledger.Ledger, amount ledger.Money, description string) (ledger.Receipt, error) {
			return l.Transfer(ctx, amount, description)
		})
}

func newReceiveCmd(a *app) *cobra.Command {
	return newMovementCmd(a, "receive", "Record money received from an external account",
		func(ctx context.Context, l *ledger.Ledger, amount ledger.Money, description string) (ledger.Receipt, error) {
			return l.Receive(ctx, amount, description)
		})
}

type movement func(ctx context.Context, l *ledger.Ledger, amount ledger.Money, description string) (ledger.Receipt, error)

func newMovementCmd(a *app, use, short string, move movement) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   use + " AMOUNT",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := ledger.ParseAmount(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				receipt, err := move(ctx, s.ledger, amount, description)
				if err != nil {
					return err
				}
				printReceipt(cmd.OutOrStdout(), receipt)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Who or what the transfer is for (required)")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List every transaction, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				history, err := s.ledger.Transactions(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(history) == 0 {
					fmt.Fprintln(out, "No transactions yet.")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tDATE\tTYPE\tAMOUNT\tDESCRIPTION")
				for _, tx := range history {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", tx.ID, tx.When(), tx.Type, tx.Effect(), tx.Description)
				}
				return w.Flush()
			})
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				tx, err := s.ledger.Transaction(ctx, args[0])
				if err != nil {
					return err
				}
				printTransaction(cmd.OutOrStdout(), tx)
				return nil
			})
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the balance matches the history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				state, err := s.ledger.Verify(ctx)
				out := cmd.OutOrStdout()
				if errors.Is(err, ledger.ErrInconsistentState) {
					sum, _ := ledger.Sum(state.Transactions)
					fmt.Fprintf(out, "INCONSISTENT: balance %s, history sums to %s\n", state.Balance, sum)
					return err
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "OK: balance %s over %d transactions\n", state.Balance, len(state.Transactions))
				return nil
			})
		},
	}
}

func printReceipt(out io.Writer, receipt ledger.Receipt) {
	printTransaction(out, receipt.Transaction)
	fmt.Fprintf(out, "Balance:     %s\n", receipt.Balance)
}

func printTransaction(out io.Writer, tx ledger.Transaction) {
	fmt.Fprintf(out, "ID:          %s\n", tx.ID)
	fmt.Fprintf(out, "Type:        %s\n", tx.Type)
	fmt.Fprintf(out, "Amount:      %s\n", tx.Amount)
	fmt.Fprintf(out, "Description: %s\n", tx.Description)
	fmt.Fprintf(out, "Date:        %s\n", tx.When())
	if tx.Source != "" {
		fmt.Fprintf(out, "Source:      %s\n", tx.Source)
	}
}
