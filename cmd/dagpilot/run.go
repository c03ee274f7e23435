package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dagpilot/internal/api"
	"dagpilot/internal/artifact"
	"dagpilot/internal/config"
	"dagpilot/internal/dag"
	"dagpilot/internal/generator"
	"dagpilot/internal/health"
	"dagpilot/internal/lifecycle"
	"dagpilot/internal/notify"
	"dagpilot/internal/observability"
	"dagpilot/internal/platform/airflow"
	"dagpilot/internal/platform/dockerexec"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one lifecycle session until the DAG succeeds or a fatal fault occurs",
	Long: `Run generates, saves, registers, validates, tests, triggers and monitors
the DAG. The final report is printed as JSON on stdout. The exit code is 1
when the session ends in a fatal fault.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func init() {
	runCmd.Flags().String("dag", "", "DAG definition file (default $DAG_FILE or dag.yaml)")
	runCmd.Flags().String("generator", "", "generator: template, command or inbox (default $GENERATOR)")
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	svc := config.LoadServiceConfig()
	if path, _ := cmd.Flags().GetString("dag"); path != "" {
		svc.DAGFile = path
	}
	if mode, _ := cmd.Flags().GetString("generator"); mode != "" {
		svc.GeneratorMode = mode
	}

	// Logs go to stderr so stdout carries only the report.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: svc.LogLevel})))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := config.LoadDAG(svc.DAGFile)
	if err != nil {
		slog.Error("Invalid DAG definition", "path", svc.DAGFile, "error", err)
		return err
	}

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	scheduler, err := dockerexec.NewClient(dockerexec.LoadConfigFromEnv(d))
	if err != nil {
		return err
	}
	defer scheduler.Close()

	airflowClient := airflow.NewClient(airflow.LoadConfigFromEnv(d))

	gen, err := generator.New(svc)
	if err != nil {
		return err
	}

	notifier := notify.New(notify.LoadConfigFromEnv(svc.WebhookURL, svc.WebhookKey), metrics)
	defer closeNotifier(notifier, svc.ShutdownGrace)

	lcCfg := lifecycle.LoadConfigFromEnv()
	ctrl, err := lifecycle.New(lifecycle.Options{
		DAG:       d,
		Config:    lcCfg,
		Store:     artifact.NewStore(lcCfg.DAGsDir),
		Generator: gen,
		Platform: dag.Platform{
			Registry:  scheduler,
			Validator: airflowClient,
			Tester:    scheduler,
			Trigger:   airflowClient,
			Poller:    airflowClient,
		},
		Metrics:  metrics,
		Notifier: notifier,
		Tracer:   observability.Tracer(),
	})
	if err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	healthChecker := health.NewChecker(map[string]health.ReadinessChecker{
		"docker":  scheduler,
		"airflow": airflowClient,
	})
	var statusServer *http.Server
	if svc.MetricsPort != "" {
		statusServer = &http.Server{
			Addr: ":" + svc.MetricsPort,
			Handler: api.NewRouter(api.RouterConfig{
				Session:        ctrl,
				Notifier:       notifier,
				Cancel:         cancel,
				Metrics:        metrics,
				MetricsHandler: metricsHandler,
				HealthChecker:  healthChecker,
				APIKey:         svc.StatusAPIKey,
			}),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			slog.Info("Starting status server", "port", svc.MetricsPort)
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Status server failed", "error", err)
			}
		}()
	}

	report, runErr := ctrl.Run(sessionCtx)

	healthChecker.SetShuttingDown()
	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Status server shutdown error", "error", err)
		}
		shutdownCancel()
	}

	if report != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return runErr
}

// closeNotifier drains pending webhook deliveries within the shutdown grace.
func closeNotifier(n notify.Notifier, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}

	stats := n.Stats()
	slog.Info("Notifier stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
}
