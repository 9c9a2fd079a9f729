package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/example/desk-scheduler/internal/http"
	"github.com/example/desk-scheduler/internal/worker"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		migrate    bool
		withWorker bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reconciliation jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := rt.Close(); cerr != nil {
					rt.logger.Error("failed to close resources", zap.Error(cerr))
				}
			}()

			if migrate {
				if err := rt.store.Migrate(ctx); err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
			}

			if withWorker {
				runner, err := worker.New(rt.sweeps, rt.publisher, rt.cfg.Schedule, rt.cfg.ReminderWindow, rt.logger,
					worker.WithLocation(rt.cfg.Location()),
				)
				if err != nil {
					return err
				}
				runner.Start(ctx)
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					if err := runner.Stop(stopCtx); err != nil {
						rt.logger.Warn("worker did not stop in time", zap.Error(err))
					}
				}()
			}

			return serveHTTP(ctx, rt)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "run database migrations on startup")
	cmd.Flags().BoolVar(&withWorker, "worker", true, "run the scheduled reconciliation jobs in-process")
	return cmd
}

func newHandler(rt *runtime) http.Handler {
	reservations := httptransport.NewReservationHandler(rt.reservations, rt.logger,
		httptransport.WithDeskCatalog(rt.desks),
		httptransport.WithChangePublisher(rt.publisher),
	)
	desks := httptransport.NewDeskHandler(rt.desks, rt.publisher, rt.logger)

	return httptransport.NewRouter(httptransport.RouterConfig{
		Reservations: reservations,
		Desks:        desks,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(rt.logger),
			httptransport.Recoverer(rt.logger),
			httptransport.RequireUser(rt.logger),
		},
	})
}

func serveHTTP(ctx context.Context, rt *runtime) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.HTTPPort),
		Handler:           newHandler(rt),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("failed to shutdown server", zap.Error(err))
		}
	}()

	rt.logger.Info("deskd API listening", zap.String("addr", server.Addr), zap.String("store", rt.cfg.Store))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
