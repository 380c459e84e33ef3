package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soypete/alttext/pkg/httpapi"
	"github.com/soypete/alttext/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

func (a *app) newWorker() *worker.Worker {
	return worker.New(a.queue, a.service, worker.Config{
		Concurrency:       a.cfg.Queue.Concurrency,
		RequestsPerMinute: a.cfg.Queue.RequestsPerMinute,
		PollInterval:      a.cfg.Queue.PollInterval,
		Model:             a.cfg.OpenAI.Model,
	}, a.logger)
}

func workerCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued alt text jobs",
		Long: `Worker claims queued jobs and generates their alt text. It runs until
interrupted, or with --once until the queue is empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, needs{vision: true})
			if err != nil {
				return err
			}
			defer a.Close()

			w := a.newWorker()
			if once {
				n, err := w.RunOnce(ctx)
				fmt.Printf("Processed %d jobs\n", n)
				return err
			}
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Exit when no jobs are pending")
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		addr       string
		withWorker bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, needs{vision: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := &http.Server{
				Addr: addr,
				Handler: httpapi.NewServer(httpapi.Options{
					Generator:    a.service,
					Jobs:         a.queue,
					Stats:        a.assets,
					DB:           a.db,
					Model:        a.cfg.OpenAI.Model,
					QueueBackend: a.cfg.Queue.Backend,
					Logger:       a.logger,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			eg, egCtx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				a.logger.Info().Str("addr", addr).Msg("http: listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			eg.Go(func() error {
				<-egCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(egCtx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if withWorker {
				eg.Go(func() error {
					if err := a.newWorker().Run(egCtx); err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also process queued jobs in this process")
	return cmd
}
