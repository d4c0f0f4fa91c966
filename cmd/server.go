package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/gym-scheduler/internal/gym"
	"github.com/example/gym-scheduler/internal/retry"
	"github.com/example/gym-scheduler/internal/scheduler"
	"github.com/example/gym-scheduler/internal/server"
	"github.com/example/gym-scheduler/internal/session"
	"github.com/example/gym-scheduler/internal/worker"
)

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the booking engine: scheduler loop + JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			client := gym.NewHTTPClient(e.cfg.GymBaseURL, e.cfg.GymRPS)
			sessions := session.NewManager(e.accounts, client, e.log)

			policy := retry.Default(e.cfg.Timezone)
			policy.QuietStart = e.cfg.QuietStart
			policy.QuietEnd = e.cfg.QuietEnd

			pool := worker.NewPool(e.cfg.WorkerCount)
			sched := &scheduler.Scheduler{
				Store:      e.jobs,
				Sessions:   sessions,
				Pool:       pool,
				Policy:     policy,
				Interval:   e.cfg.PollInterval,
				RenewEvery: session.MaxSessionAge,
				Clock:      time.Now,
				Log:        e.log,
			}
			sched.Exec = &worker.Executor{
				Store:    e.jobs,
				Client:   client,
				Sessions: sessions,
				Policy:   policy,
				Cancel:   sched,
				Clock:    time.Now,
				Log:      e.log,
			}
			sessions.SetBusy(sched.AccountBusy)

			api := &server.Server{
				Accounts: e.accounts,
				Jobs:     e.jobs,
				Sessions: sessions,
				Client:   client,
				Sched:    sched,
				Loc:      e.cfg.Timezone,
				Clock:    time.Now,
				Log:      e.log,
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return server.Start(ctx, e.cfg.ListenAddr, api.Routes(), e.log)
			})
			return g.Wait()
		},
	}
}
