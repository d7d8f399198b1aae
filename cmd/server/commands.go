package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/qstarmachine/billing/internal/repository"
	"github.com/qstarmachine/billing/internal/service"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)
			db, err := repository.NewDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer db.Close()

			if err := repository.RunMigrations(ctx, db); err != nil {
				return fmt.Errorf("migration error: %w", err)
			}
			slog.Info("database migrated")
			return nil
		},
	}
}

func newPlansCmd() *cobra.Command {
	plans := &cobra.Command{
		Use:   "plans",
		Short: "Inspect subscription plans",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List subscription plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)
			db, err := repository.NewDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer db.Close()

			items, err := service.NewPlanService(repository.NewPlanRepository(db)).List(ctx, !all)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPRICE\tDAYS\tCREDITS\tACTIVE")
			for _, p := range items {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%t\n", p.ID, p.Name, p.Price, p.DurationDays, p.TokenCreditsCost, p.IsActive)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include plans not offered for purchase")
	plans.AddCommand(list)
	return plans
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
