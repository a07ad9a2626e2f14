package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"hk-cultural-events/internal/config"
	"hk-cultural-events/internal/logging"
	"hk-cultural-events/internal/models"
	"hk-cultural-events/internal/services"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "feedsync",
		Usage: "Import the LCSD venue and event feeds into the catalog.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "log-level", Usage: "override logging.level"},
		},
		Commands: []*cli.Command{
			importCommand(),
			watchCommand(),
			lastUpdatedCommand(),
			seedUsersCommand(),
			historyCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Err(err).Msg("feedsync failed")
		os.Exit(1)
	}
}

// setup loads configuration, switches logging to the console and builds
// the service stack
func setup(c *cli.Context) (*config.Config, *services.Stack, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Logging.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logging.Init(logging.Config{Level: level, Format: "console"})

	stack, err := services.NewStack(c.Context, cfg, services.StackOptions{})
	if err != nil {
		return nil, nil, err
	}
	return cfg, stack, nil
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Run one import now.",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "seed", Usage: "seed venue sampling for a reproducible run"},
			&cli.BoolFlag{Name: "json", Usage: "print the run summary as JSON"},
		},
		Action: func(c *cli.Context) error {
			if c.IsSet("seed") {
				// config.Load reads the environment last
				if err := os.Setenv("IMPORT_SEED", fmt.Sprint(c.Uint64("seed"))); err != nil {
					return err
				}
			}
			_, stack, err := setup(c)
			if err != nil {
				return err
			}
			defer stack.Close(context.Background())

			summary, err := stack.Importer.Run(c.Context, models.TriggerTypeManual)
			if summary != nil {
				printSummary(summary, c.Bool("json"))
			}
			return err
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Run imports on the configured cron schedule and serve /metrics.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schedule", Usage: "override import.schedule (standard 5-field cron)"},
			&cli.BoolFlag{Name: "now", Usage: "also import once at startup"},
		},
		Action: func(c *cli.Context) error {
			cfg, stack, err := setup(c)
			if err != nil {
				return err
			}
			defer stack.Close(context.Background())

			schedule := cfg.Import.Schedule
			if c.IsSet("schedule") {
				schedule = c.String("schedule")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			runImport := func() {
				_, err := stack.Importer.Run(ctx, models.TriggerTypeScheduled)
				switch {
				case services.IsImportBusy(err):
					logging.Warn().Msg("Skipped scheduled import, another import is running")
				case services.IsImportFailure(err):
					kind, _ := services.ImportErrorKindOf(err)
					logging.Warn().Str("kind", string(kind)).Msg("Scheduled import failed, retrying on the next tick")
				case err != nil:
					logging.Err(err).Msg("Scheduled import errored")
				}
			}

			scheduler := cron.New()
			if _, err := scheduler.AddFunc(schedule, runImport); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logging.Error().Err(err).Msg("Metrics server stopped")
				}
			}()

			if c.Bool("now") {
				go runImport()
			}
			scheduler.Start()
			logging.Info().Str("schedule", schedule).Str("metrics", cfg.Metrics.Addr).Msg("Watching for scheduled imports")

			<-ctx.Done()
			logging.Info().Msg("Shutting down")

			<-scheduler.Stop().Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func lastUpdatedCommand() *cli.Command {
	return &cli.Command{
		Name:  "last-updated",
		Usage: "Print when the catalog was last imported.",
		Action: func(c *cli.Context) error {
			_, stack, err := setup(c)
			if err != nil {
				return err
			}
			defer stack.Close(context.Background())

			last, err := stack.LastUpdated.LastUpdated(c.Context)
			if err != nil {
				return err
			}
			if last == nil {
				fmt.Println("never")
				return nil
			}
			fmt.Println(last.Format(time.RFC3339))
			return nil
		},
	}
}

func seedUsersCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed-users",
		Usage: "Create the demo user and admin accounts if they do not exist.",
		Action: func(c *cli.Context) error {
			_, stack, err := setup(c)
			if err != nil {
				return err
			}
			defer stack.Close(context.Background())

			created, err := stack.Auth.SeedUsers(c.Context, services.DemoUsers)
			if err != nil {
				return err
			}
			if len(created) == 0 {
				fmt.Println("demo users already exist")
				return nil
			}
			for _, name := range created {
				fmt.Println("created", name)
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List archived import summaries.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(c *cli.Context) error {
			_, stack, err := setup(c)
			if err != nil {
				return err
			}
			defer stack.Close(context.Background())

			if stack.Archive == nil {
				return fmt.Errorf("archive is disabled, set S3_BUCKET_NAME and ARCHIVE_FEEDS=true")
			}
			files, err := stack.Archive.ListSummaries(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Printf("%s  %6d  %s\n", f.LastModified.Format(time.RFC3339), f.Size, f.Key)
			}
			return nil
		},
	}
}

func printSummary(summary *models.ImportSummary, asJSON bool) {
	if asJSON {
		out, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Printf("run:        %s (%s)\n", summary.RunID, summary.Status)
	fmt.Printf("feed:       %d venues, %d events\n", summary.FeedVenues, summary.FeedEvents)
	fmt.Printf("selected:   %d of %d candidate venues, %d events\n", summary.SelectedVenues, summary.CandidateVenues, summary.SelectedEvents)
	fmt.Printf("written:    %d venues, %d events (%d skipped)\n", summary.VenuesWritten, summary.EventsWritten, summary.EventsSkipped)
	fmt.Printf("duration:   %dms\n", summary.Duration)
	for _, w := range summary.Warnings {
		fmt.Printf("warning:    %s\n", w)
	}
	if summary.Error != "" {
		fmt.Printf("error:      %s\n", summary.Error)
	}
}
