package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/api/dto"
	httptransport "github.com/ShapArt/outlook-exporter/internal/api/http"
	"github.com/ShapArt/outlook-exporter/internal/api/http/handlers"
	"github.com/ShapArt/outlook-exporter/internal/auth"
	"github.com/ShapArt/outlook-exporter/internal/config"
	"github.com/ShapArt/outlook-exporter/internal/observability"
	"github.com/ShapArt/outlook-exporter/internal/worker"
)

var envFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "slatracker",
		Short:        "SLA tracker for tickets raised by mail",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Extra env file loaded before .env")

	root.AddCommand(
		newServeCmd(),
		newSinceCmd("ingest", "Create and extend tickets from inbound mail", func(ctx context.Context, a *application, since time.Time) (any, error) {
			return a.tracker.RunIngest(ctx, since)
		}),
		newPassCmd("recalc", "Recompute SLA state of open tickets", func(ctx context.Context, a *application) (any, error) {
			return a.tracker.RecalcOpen(ctx)
		}),
		newPassCmd("remind", "Send or preview reminders for overdue tickets", func(ctx context.Context, a *application) (any, error) {
			return a.tracker.SendOverdue(ctx)
		}),
		newSinceCmd("respond", "Apply replies and votes on reminders", func(ctx context.Context, a *application, since time.Time) (any, error) {
			return a.tracker.ProcessResponses(ctx, since)
		}),
		newPassCmd("reconcile", "Merge spreadsheet edits into the store", func(ctx context.Context, a *application) (any, error) {
			return a.tracker.SyncFromSpreadsheet(ctx)
		}),
		newPassCmd("export", "Write the spreadsheet snapshot", func(ctx context.Context, a *application) (any, error) {
			return a.tracker.ExportSnapshot(ctx)
		}),
		newSinceCmd("cycle", "Run every pass once in order", func(ctx context.Context, a *application, since time.Time) (any, error) {
			return a.tracker.RunCycle(ctx, since)
		}),
		newTokenCmd(),
	)
	return root
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func withApp(run func(cmd *cobra.Command, a *application) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		a, err := newApplication(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error("bootstrap failed", zap.Error(err))
			return err
		}
		defer a.Close()

		return run(cmd, a)
	}
}

// newPassCmd prints the pass result as JSON. The result is still printed
// when the pass reports an error, since partial work was committed.
func newPassCmd(use, short string, pass func(context.Context, *application) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *application) error {
			result, err := pass(cmd.Context(), a)
			if perr := printJSON(cmd, result); perr != nil {
				return perr
			}
			return err
		}),
	}
}

func newSinceCmd(use, short string, pass func(context.Context, *application, time.Time) (any, error)) *cobra.Command {
	var since string
	cmd := newPassCmd(use, short, nil)
	cmd.RunE = withApp(func(cmd *cobra.Command, a *application) error {
		from := a.tracker.DefaultSince()
		if since != "" {
			parsed, err := time.Parse(time.RFC3339, since)
			if err != nil {
				return fmt.Errorf("--since must be RFC3339: %w", err)
			}
			from = parsed
		}
		result, err := pass(cmd.Context(), a, from)
		if perr := printJSON(cmd, result); perr != nil {
			return perr
		}
		return err
	})
	cmd.Flags().StringVar(&since, "since", "", "Start of the mail window (RFC3339), defaults to the dedup lookback")
	return cmd
}

func newServeCmd() *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operator API and the periodic cycle",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *application) error {
			ctx := cmd.Context()
			cfg := a.cfg

			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
			app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
			httptransport.RegisterMiddlewares(app, a.logger, a.metrics, cfg.App.RequestTimeout())
			httptransport.RegisterRoutes(app, httptransport.RouteConfig{
				Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, a.checks),
				Tickets:        handlers.NewTicketsHandler(a.tracker.Tickets),
				Passes:         handlers.NewPassesHandler(a.tracker),
				AuthMiddleware: auth.NewAuthMiddleware(tokens),
				Metrics:        a.metrics,
			})

			if !noScheduler {
				scheduler := worker.NewScheduler(a.tracker, a.lease, cfg.Scheduler.Interval(), a.logger)
				go scheduler.Run(ctx)
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("listening", zap.String("addr", cfg.App.Addr()))
				errCh <- app.Listen(cfg.App.Addr())
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("fiber listen: %w", err)
			case <-ctx.Done():
				a.logger.Info("shutting down")
			}
			return app.ShutdownWithTimeout(10 * time.Second)
		}),
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve the API without running the periodic cycle")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			r, ok := auth.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
			token, expiresAt, err := tokens.GenerateToken(subject, r)
			if err != nil {
				return err
			}
			return printJSON(cmd, dto.TokenResponse{Token: token, ExpiresAt: expiresAt})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Who the token is issued to")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer or operator")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
