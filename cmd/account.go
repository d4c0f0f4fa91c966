package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/gym-scheduler/internal/jobs"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage reservation-service accounts",
	}
	cmd.AddCommand(newAccountAddCmd())
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountRemoveCmd())
	cmd.AddCommand(newAccountRenewCmd())
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var account, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Register an account (credentials are encrypted at rest)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.accounts.Add(ctx, account, password); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "added account %q\n", account)
			return nil
		},
	}

	c.Flags().StringVar(&account, "account", "", "account identifier")
	c.Flags().StringVar(&password, "password", "", "account password")
	_ = c.MarkFlagRequired("account")
	_ = c.MarkFlagRequired("password")
	return c
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts and their session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			list, err := e.accounts.List(ctx)
			if err != nil {
				return err
			}
			for _, a := range list {
				renewed := "never"
				if a.LastRenewedAt != nil {
					renewed = a.LastRenewedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(os.Stdout, "account=%s session=%s renewed=%s\n", a.Username, a.State, renewed)
			}
			return nil
		},
	}
}

func newAccountRemoveCmd() *cobra.Command {
	var account string

	c := &cobra.Command{
		Use:   "remove",
		Short: "Remove an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.accounts.Remove(ctx, account); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "removed account %q\n", account)
			return nil
		},
	}

	c.Flags().StringVar(&account, "account", "", "account identifier")
	_ = c.MarkFlagRequired("account")
	return c
}

func newAccountRenewCmd() *cobra.Command {
	var account string

	c := &cobra.Command{
		Use:   "renew",
		Short: "Queue a session renewal job for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			if _, err := e.accounts.Get(ctx, account); err != nil {
				return err
			}
			now := time.Now()
			j := jobs.NewRenew(account, now, now)
			if err := e.jobs.Create(ctx, j); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "queued renewal job %s for %q\n", j.ID, account)
			return nil
		},
	}

	c.Flags().StringVar(&account, "account", "", "account identifier")
	_ = c.MarkFlagRequired("account")
	return c
}
