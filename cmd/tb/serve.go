package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskbridge/internal/app"
	"taskbridge/internal/notify"
	"taskbridge/internal/payout"
	"taskbridge/internal/server"
	"taskbridge/internal/sweeper"
)

func serveCmd() *cobra.Command {
	var (
		addr, basePath string
		devLogin       bool
		trustActorHdrs bool
		disableSweeper bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, notification stream and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.SetDefault(logger)

			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("TASKBRIDGE_JWT_SECRET is required for bearer auth")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				hub := notify.NewHub()
				go hub.Run(ctx)

				relay := notify.NewRelay(a.Engine.Repo, hub, a.Config.NotificationPollInterval())
				relay.Logger = logger.With("component", "notify")
				go relay.Start(ctx)

				if !disableSweeper {
					sw, err := sweeper.New(a.Engine, a.Config.Sweeper.Schedule)
					if err != nil {
						return err
					}
					sw.Logger = logger.With("component", "sweeper")
					go sw.Start(ctx)
				}

				if a.Config.Payout.WebhookURL != "" {
					d := payout.NewDispatcher(a.Engine.Repo, payout.NewWebhookLedger(a.Config.Payout), a.Config.Payout.Batch)
					d.Logger = logger.With("component", "payout")
					go d.Start(ctx)
				} else {
					logger.Warn("payout webhook not configured; completion facts stay queued")
				}

				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:         secret,
						AllowActorHeaders: trustActorHdrs,
						AllowDevLogin:     devLogin,
						Logger:            logger,
					},
					Hub:         hub,
					CORSOrigins: a.Config.Server.CORSOrigins,
					Logger:      logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving TaskBridge API", "addr", addr, "base_path", basePath, "docs", "/docs",
					"db_driver", a.Dialect, "lock_backend", fmt.Sprintf("%T", a.Engine.Locks))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (development only)")
	cmd.Flags().BoolVar(&trustActorHdrs, "trust-actor-headers", false, "trust X-Actor-Id/X-Actor-Role without credentials (development only)")
	cmd.Flags().BoolVar(&disableSweeper, "no-sweeper", false, "do not run the scheduled sweeper")
	return cmd
}
