package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/septivank/fleetwatch/internal/analytics"
	"github.com/septivank/fleetwatch/internal/armreport"
	"github.com/septivank/fleetwatch/internal/config"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/httpapi"
	"github.com/septivank/fleetwatch/internal/ingest"
	"github.com/septivank/fleetwatch/internal/metrics"
	"github.com/septivank/fleetwatch/internal/mq"
	"github.com/septivank/fleetwatch/internal/notify"
	"github.com/septivank/fleetwatch/internal/presence"
	"github.com/septivank/fleetwatch/internal/repository"
	"github.com/septivank/fleetwatch/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// serveOptions carries command line flags into the fx graph
type serveOptions struct {
	Migrate bool
}

// ProvideRegistry creates the metrics registry with runtime collectors
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the service collectors
func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

// ProvideStore creates the configured persistence backend
func ProvideStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, opts serveOptions) (repository.Store, error) {
	if cfg.Database.StoreDriver == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), nil
	}

	pool, err := db.NewPool(lc, logger, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if opts.Migrate {
		// Appended after the pool hook, so it runs once the ping succeeded
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := db.Migrate(ctx, pool); err != nil {
					return err
				}
				logger.Info("database schema applied")
				return nil
			},
		})
	}
	return repository.NewPostgresStore(pool), nil
}

// ProvideMQConnection connects to RabbitMQ when a component needs it and
// returns nil otherwise
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.UsesRabbitMQ() {
		return nil, nil
	}
	return mq.NewConnection(lc, logger, mq.DialConfig{
		URL:           cfg.RabbitMQ.URL,
		Retries:       uint64(cfg.RabbitMQ.DialRetries),
		RetryInterval: time.Second,
	})
}

// ProvideSink creates the notification sink selected by NOTIFIER_KIND
func ProvideSink(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, conn *mq.Connection) (notify.Sink, error) {
	switch cfg.Notifier.Kind {
	case "amqp":
		publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.NotifyExchange, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create notification publisher: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return publisher.Close()
			},
		})
		return notify.NewAMQPSink(publisher, cfg.RabbitMQ.NotifyRoutingKey), nil

	case "mqtt":
		dialCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		cm, err := notify.DialMQTT(dialCtx, notify.MQTTConfig{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
		}, logger)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if err := cm.Disconnect(ctx); err != nil {
					logger.Error("failed to disconnect mqtt client", zap.Error(err))
					return err
				}
				logger.Info("mqtt connection closed")
				return nil
			},
		})
		return notify.NewMQTTSink(cm, cfg.MQTT.TopicPrefix, byte(cfg.MQTT.QoS)), nil

	default:
		return notify.NewLogSink(logger), nil
	}
}

// ProvideDispatcher creates the notification queue and ties its workers to
// the application lifecycle
func ProvideDispatcher(lc fx.Lifecycle, sink notify.Sink, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *notify.Dispatcher {
	d := notify.NewDispatcher(sink, notify.DispatcherConfig{
		QueueSize:     cfg.Notifier.QueueSize,
		Workers:       cfg.Notifier.Workers,
		Timeout:       cfg.Notifier.Timeout,
		DefaultThread: optionalThread(cfg.Notifier.DefaultThreadID),
	}, logger, m)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			d.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return d.Stop(ctx)
		},
	})
	return d
}

// ProvideReconstructor creates the route reconstructor
func ProvideReconstructor(store repository.Store, cfg *config.Config) *session.Reconstructor {
	return session.NewReconstructor(store, session.Config{
		MaxPoints:      cfg.Route.MaxPoints,
		LastN:          cfg.Route.LastN,
		FallbackWindow: cfg.Route.FallbackWindow,
	})
}

// ProvideAnalyzer creates the route analyzer
func ProvideAnalyzer(cfg *config.Config) *analytics.Analyzer {
	return analytics.NewAnalyzer(analytics.Thresholds{
		LostAfter:     cfg.Route.LostAfter,
		FinishedAfter: cfg.Route.FinishedAfter,
	})
}

// ProvideEngine creates the presence engine
func ProvideEngine(
	store repository.Store,
	routes *session.Reconstructor,
	analyzer *analytics.Analyzer,
	dispatcher *notify.Dispatcher,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *presence.Engine {
	return presence.NewEngine(store, routes, analyzer, dispatcher, presenceConfig(cfg), logger, m)
}

// ProvideScheduler creates the offline sweep scheduler
func ProvideScheduler(engine *presence.Engine, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *presence.Scheduler {
	return presence.NewScheduler(engine, presenceConfig(cfg), logger, m)
}

// ProvideGateway creates the telemetry ingest gateway
func ProvideGateway(store repository.Store, engine *presence.Engine, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *ingest.Gateway {
	return ingest.NewGateway(store, store, engine, ingest.Config{
		ClockSkew:       cfg.Ingest.ClockSkew,
		MaxDecodedBytes: cfg.Ingest.MaxDecodedBytes,
	}, logger, m)
}

// ProvideArmReportService creates the ARM report service
func ProvideArmReportService(store repository.Store, dispatcher *notify.Dispatcher, cfg *config.Config, logger *zap.Logger) *armreport.Service {
	return armreport.NewService(store, dispatcher, armreport.Config{
		Limits: armreport.Limits{
			Arms:     cfg.ArmLimits.Count,
			ArmSec:   cfg.ArmLimits.ArmSec,
			QStabSec: cfg.ArmLimits.QStabSec,
		},
		ThreadID:        optionalThread(cfg.Notifier.ArmReportThreadID),
		MaxDecodedBytes: cfg.Ingest.MaxDecodedBytes,
	}, logger)
}

// ProvideHandler creates the HTTP handler
func ProvideHandler(
	gateway *ingest.Gateway,
	arm *armreport.Service,
	store repository.Store,
	routes *session.Reconstructor,
	analyzer *analytics.Analyzer,
	reg *prometheus.Registry,
	cfg *config.Config,
	logger *zap.Logger,
) *httpapi.Handler {
	return httpapi.NewHandler(httpapi.Deps{
		Gateway:  gateway,
		Arm:      arm,
		Boards:   store,
		Points:   store,
		Routes:   routes,
		Analyzer: analyzer,
		Gatherer: reg,
	}, httpapi.Config{MaxBodyBytes: int64(cfg.Ingest.MaxBodyBytes)}, logger)
}

// ProvideHTTPServer creates the HTTP server bound to the lifecycle
func ProvideHTTPServer(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, h *httpapi.Handler) *http.Server {
	return httpapi.NewServer(lc, logger, cfg.HTTPAddr, h)
}

func presenceConfig(cfg *config.Config) presence.Config {
	pc := presence.DefaultConfig()
	pc.Inactive = time.Duration(cfg.Presence.InactiveMinutes) * time.Minute
	pc.Prolonged = time.Duration(cfg.Presence.ProlongedMinutes) * time.Minute
	pc.SweepInterval = cfg.Presence.SweepInterval
	pc.SweepRetries = uint64(cfg.Presence.SweepRetries)
	pc.SweepConcurrency = cfg.Presence.SweepConcurrency
	pc.PowerOnMinVolt = cfg.Presence.PowerOnMinVolt
	pc.PublicBaseURL = cfg.PublicBaseURL
	pc.MaxClockSkew = cfg.Ingest.ClockSkew
	return pc
}

func optionalThread(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
