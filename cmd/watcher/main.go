// Command watcher triggers a scan against the scanning server and renders
// its live pipeline progress in the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/scanwatch/internal/app/watch"
	"github.com/ahrav/scanwatch/internal/app/watch/metrics"
	"github.com/ahrav/scanwatch/internal/config"
	"github.com/ahrav/scanwatch/internal/domain/progress"
	"github.com/ahrav/scanwatch/internal/infra/scanapi"
	"github.com/ahrav/scanwatch/internal/render"
	"github.com/ahrav/scanwatch/pkg/common/logger"
	commonotel "github.com/ahrav/scanwatch/pkg/common/otel"
)

const serviceName = "scanwatch"

func main() {
	_, _ = maxprocs.Set()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "watcher",
		Short: "Live scan-progress watcher for the security dashboard",
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Trigger a scan and render its live progress",
		RunE:  runWatch,
	}
	watchCmd.Flags().String("entity", "", "Entity (account or repository) to scan")
	watchCmd.Flags().String("kind", "cloud", "Scan kind: cloud or repo")
	watchCmd.Flags().Bool("attach", false, "Join an already-running scan instead of triggering one")
	_ = watchCmd.MarkFlagRequired("entity")
	_ = viper.BindPFlag("entity", watchCmd.Flags().Lookup("entity"))
	_ = viper.BindPFlag("kind", watchCmd.Flags().Lookup("kind"))
	_ = viper.BindPFlag("attach", watchCmd.Flags().Lookup("attach"))

	rootCmd.AddCommand(watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	kind, err := progress.ParseScanKind(viper.GetString("kind"))
	if err != nil {
		return err
	}
	entityID := viper.GetString("entity")

	traceIDFn := func(ctx context.Context) string {
		return commonotel.GetTraceID(ctx)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			attrs, err := json.Marshal(r.Attributes)
			if err != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, attrs)
		},
	}

	log := logger.NewWithEvents(os.Stderr, parseLogLevel(cfg.LogLevel), serviceName, traceIDFn, logEvents)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tracer trace.Tracer = noop.NewTracerProvider().Tracer(serviceName)
	if cfg.OTelEndpoint != "" {
		tp, cleanup, err := commonotel.InitTelemetry(log, commonotel.Config{
			ServiceName:      serviceName,
			ExporterEndpoint: cfg.OTelEndpoint,
			Probability:      1,
		})
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer cleanup(context.Background())
		tracer = tp.Tracer(serviceName)
	}

	watchMetrics, err := metrics.New(otel.GetMeterProvider().Meter(serviceName))
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	client := scanapi.NewClient(cfg.APIBaseURL, log)
	controller := watch.NewController(client, watch.Config{
		PollInterval:             cfg.PollInterval,
		PacingGap:                cfg.PacingGap,
		DismissDelay:             cfg.DismissDelay,
		ReconcileOnStreamFailure: cfg.ReconcileOnStreamFailure,
	}, log, tracer, watchMetrics)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var session *watch.Session
	if viper.GetBool("attach") {
		session, err = controller.Attach(ctx, entityID, kind)
	} else {
		session, err = controller.StartScan(ctx, entityID, kind)
	}
	if err != nil {
		return err
	}

	fmt.Printf("watching %s scan of %s\n\n", kind, entityID)

	for {
		select {
		case <-sigCh:
			session.Dismiss()

		case snap, ok := <-session.Updates():
			if !ok {
				return waitForDismiss(session)
			}
			fmt.Println()
			render.Pipeline(os.Stdout, snap)
		}
	}
}

func parseLogLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

// waitForDismiss keeps a terminal overlay up the way the dashboard does:
// completions dismiss themselves after a fixed delay, errors wait for the
// user.
func waitForDismiss(session *watch.Session) error {
	snap := session.Snapshot()
	if snap.Phase == progress.PhaseError {
		fmt.Println("\npress Ctrl-C to dismiss")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
		case <-time.After(10 * time.Minute):
		}
		return fmt.Errorf("scan failed: %s", snap.Event.Message)
	}

	<-session.Dismissed()
	return nil
}
