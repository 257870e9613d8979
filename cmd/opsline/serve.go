package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"opsline/internal/app"
	"opsline/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server, at-risk sweeper and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if cfg.Server.JWTSecret == "" {
					return fmt.Errorf("server.jwt_secret (or OPSLINE_JWT_SECRET) is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					Hub:       a.Hub,
					Router:    a.Router,
					Dashboard: a.Dashboard,
					BasePath:  cfg.Server.BasePath,
					Auth:      server.AuthConfig{JWTSecret: cfg.Server.JWTSecret, DevLogin: cfg.Server.DevLogin},
					Log:       a.Log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{
					Addr:              cfg.Server.Addr,
					Handler:           handler,
					ReadHeaderTimeout: 10 * time.Second,
				}
				hooks := server.NewWebhookDispatcher(a.Engine.Repo, cfg.Webhooks, a.Log)

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					a.Log.Info().Str("addr", cfg.Server.Addr).Str("base_path", cfg.Server.BasePath).Msg("serving opsline API (OpenAPI at <base>/openapi.json, Swagger UI at /docs)")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					a.Hub.CloseAll()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					return a.Engine.RunSweeper(gctx, cfg.Workflow.SweepInterval, cfg.Workflow.RiskWindow)
				})
				g.Go(func() error {
					return hooks.Run(gctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("base-path", "", "API base path (overrides server.base_path)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.base_path", cmd.Flags().Lookup("base-path"))
	return cmd
}
