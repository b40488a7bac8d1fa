package main

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/fleetwatch/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lifecycleTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the offline sweep and the notification dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", true, "apply the database schema on start")
	return cmd
}

// coreModule provides storage, notification delivery and presence tracking
func coreModule(opts serveOptions) fx.Option {
	return fx.Options(
		fx.Supply(opts),
		fx.Provide(
			config.Load,
			newLogger,
			ProvideRegistry,
			ProvideMetrics,
			ProvideStore,
			ProvideMQConnection,
			ProvideSink,
			ProvideDispatcher,
			ProvideReconstructor,
			ProvideAnalyzer,
			ProvideEngine,
			ProvideScheduler,
		),
	)
}

func serveModule(opts serveOptions) fx.Option {
	return fx.Options(
		coreModule(opts),
		fx.Provide(
			ProvideGateway,
			ProvideArmReportService,
			ProvideHandler,
			ProvideHTTPServer,
		),
		fx.Invoke(startHTTP, startScheduler, startIngestConsumer),
	)
}

func runServe(ctx context.Context, opts serveOptions) error {
	app := fx.New(serveModule(opts))
	if err := app.Err(); err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	// Create a temporary logger for startup error messages
	tempLogger, _ := newLogger(&config.Config{ServiceName: "fleetwatch"})
	tempLogger.Info("starting application...", zap.String("timeout", lifecycleTimeout.String()))

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("APPLICATION START TIMEOUT: Failed to start within 30 seconds. This usually means a dependency (Database, RabbitMQ or MQTT) is not accessible. Check the error messages above for specific connection failures.")
		}
		return err
	}

	// Wait for interrupt signal
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("error stopping app: %w", err)
	}
	return nil
}
