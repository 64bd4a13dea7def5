package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bookly/service_layer/internal/app/runtime"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := runtime.NewApplication(ctx, cfg, log, serveMigrate)
		if err != nil {
			return err
		}

		runErr := rt.Run(ctx)
		if runErr != nil {
			log.WithError(runErr).Error("http server failed")
		} else {
			log.Info("shutdown signal received")
		}
		if err := rt.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("shutdown")
		}
		log.Info("server stopped")
		return runErr
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply the database schema before serving")
}
