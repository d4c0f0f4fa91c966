package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/gym-scheduler/internal/gym"
	"github.com/example/gym-scheduler/internal/jobs"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage booking jobs",
	}
	cmd.AddCommand(newJobBookCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobInfoCmd())
	cmd.AddCommand(newJobRemoveCmd())
	return cmd
}

func newJobBookCmd() *cobra.Command {
	var (
		account   string
		sname     string
		sdate     string
		timeno    string
		serviceID string
		areaID    string
		stockID   string
		pay       bool
	)

	c := &cobra.Command{
		Use:   "book",
		Short: "Queue a booking job for a venue time-slot",
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

			typ := jobs.TypeBook
			if pay {
				typ = jobs.TypeBookAndPay
			}
			area := gym.Area{
				SName:     sname,
				SDate:     sdate,
				TimeNo:    timeno,
				ServiceID: serviceID,
				AreaID:    areaID,
				StockID:   stockID,
			}
			j, err := jobs.NewBooking(typ, area, account, time.Now(), e.cfg.Timezone)
			if err != nil {
				return err
			}
			if err := e.jobs.Create(ctx, j); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "queued job %s type=%s due=%s\n", j.ID, j.Type, j.NextDueAt.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&account, "account", "", "account that owns the booking")
	c.Flags().StringVar(&sname, "sname", "", "slot display name")
	c.Flags().StringVar(&sdate, "sdate", "", "slot date YYYY-MM-DD")
	c.Flags().StringVar(&timeno, "timeno", "", "slot time range HH:MM-HH:MM")
	c.Flags().StringVar(&serviceID, "serviceid", "", "facility service id")
	c.Flags().StringVar(&areaID, "areaid", "", "area id")
	c.Flags().StringVar(&stockID, "stockid", "", "stock id")
	c.Flags().BoolVar(&pay, "pay", false, "also pay for the order after booking")
	_ = c.MarkFlagRequired("account")
	_ = c.MarkFlagRequired("sdate")
	_ = c.MarkFlagRequired("timeno")
	_ = c.MarkFlagRequired("serviceid")
	_ = c.MarkFlagRequired("areaid")
	_ = c.MarkFlagRequired("stockid")
	return c
}

func newJobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			js, err := e.jobs.List(ctx)
			if err != nil {
				return err
			}
			for _, j := range js {
				fmt.Fprintf(os.Stdout, "id=%s level=%s type=%s status=%s fails=%d desc=%q\n",
					j.ID, j.Level, j.Type, j.Status, j.FailedCount, j.Description)
			}
			return nil
		},
	}
}

func newJobInfoCmd() *cobra.Command {
	var id string

	c := &cobra.Command{
		Use:   "info",
		Short: "Show one job with its attempt log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			j, err := e.jobs.Get(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "id=%s level=%s type=%s status=%s account=%s fails=%d due=%s\n",
				j.ID, j.Level, j.Type, j.Status, j.Account, j.FailedCount, j.NextDueAt.Format(time.RFC3339))
			if j.WindowEndAt != nil {
				fmt.Fprintf(os.Stdout, "window_end=%s\n", j.WindowEndAt.Format(time.RFC3339))
			}
			for _, r := range j.Results {
				fmt.Fprintf(os.Stdout, "  %s success=%t %s\n", r.CreatedAt.Format(time.RFC3339), r.Success, r.Message)
			}
			return nil
		},
	}

	c.Flags().StringVar(&id, "id", "", "job id")
	_ = c.MarkFlagRequired("id")
	return c
}

func newJobRemoveCmd() *cobra.Command {
	var id string

	c := &cobra.Command{
		Use:   "remove",
		Short: "Remove a user job",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			j, err := e.jobs.Get(ctx, id)
			if err != nil {
				return err
			}
			if j.Level != jobs.LevelUser {
				return fmt.Errorf("%w: job %s is not a user job", gym.ErrValidation, id)
			}
			if err := e.jobs.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "removed job %s\n", id)
			return nil
		},
	}

	c.Flags().StringVar(&id, "id", "", "job id")
	_ = c.MarkFlagRequired("id")
	return c
}
