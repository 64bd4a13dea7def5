package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bookly/service_layer/internal/app/runtime"
	"github.com/bookly/service_layer/internal/config"
	"github.com/bookly/service_layer/internal/seed"
	"github.com/bookly/service_layer/pkg/logger"
)

var errSeedMemory = errors.New("no database configured (set DATABASE_URL); seeded accounts would be lost on exit, pass --allow-memory to seed the in-memory store anyway")

var (
	seedFile    string
	seedDelay   time.Duration
	seedMigrate bool
	seedMemory  bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed initial user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("file") {
			seedFile = cfg.Seed.File
		}
		if !cmd.Flags().Changed("delay") {
			seedDelay = cfg.Seed.Delay
		}

		if err := checkSeedTarget(cfg, seedMemory, log); err != nil {
			return err
		}

		inputs, err := seed.Load(seedFile)
		if err != nil {
			return err
		}

		rt, err := runtime.NewApplication(ctx, cfg, log, seedMigrate)
		if err != nil {
			return err
		}
		defer rt.Close()

		sum := seed.NewRunner(rt.App().Users, seedDelay, log.Named("seed")).Run(ctx, inputs)
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d accounts: %d created, %d already existed, %d failed\n",
			sum.Total(), sum.Created, sum.Existing, sum.Failed)
		return ctx.Err()
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML seed file (defaults to the built-in data set)")
	seedCmd.Flags().DurationVar(&seedDelay, "delay", seed.DefaultDelay, "Pause before each account is created")
	seedCmd.Flags().BoolVar(&seedMigrate, "migrate", false, "Apply the database schema before seeding")
	seedCmd.Flags().BoolVar(&seedMemory, "allow-memory", false, "Seed the in-memory store when no database is configured")
}

// checkSeedTarget refuses to seed the throwaway in-memory store unless the
// caller opted in.
func checkSeedTarget(cfg *config.Config, allowMemory bool, log *logger.Logger) error {
	if cfg.Database.DSN != "" {
		return nil
	}
	if !allowMemory {
		return errSeedMemory
	}
	log.Warn("seeding the in-memory store; accounts are discarded when the command exits")
	return nil
}
