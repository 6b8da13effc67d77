package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/assetrelay/internal/assets"
	"github.com/memohai/assetrelay/internal/boot"
	"github.com/memohai/assetrelay/internal/config"
	"github.com/memohai/assetrelay/internal/handlers"
	"github.com/memohai/assetrelay/internal/logger"
	"github.com/memohai/assetrelay/internal/metrics"
	"github.com/memohai/assetrelay/internal/notify"
	"github.com/memohai/assetrelay/internal/server"
	"github.com/memohai/assetrelay/internal/storage"
	"github.com/memohai/assetrelay/internal/storage/localfs"
	"github.com/memohai/assetrelay/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server and MQTT publisher",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *rootOptions) error {
	cfg, err := config.Load(opts.resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	runtimeConfig, err := boot.ProvideRuntimeConfig(cfg)
	if err != nil {
		return err
	}

	app := fx.New(serveOptions(cfg, runtimeConfig))
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

// serveOptions assembles the server application graph.
func serveOptions(cfg config.Config, runtimeConfig *boot.RuntimeConfig) fx.Option {
	handlerProviders := []any{
		provideServerHandler(handlers.NewHealthHandler),
		provideServerHandler(provideAssetsHandler),
		provideServerHandler(providePushHandler),
	}
	if runtimeConfig.MetricsEnabled {
		handlerProviders = append(handlerProviders, provideServerHandler(provideMetricsHandler))
	}

	return fx.Options(
		fx.Supply(cfg, runtimeConfig),
		fx.Provide(
			provideLogger,
			provideRegistry,
			provideObserver,

			provideStorage,
			assets.NewService,

			providePublisher,
			provideNotifyService,

			provideServer,
		),
		fx.Provide(handlerProviders...),
		fx.Invoke(startServer),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
	)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	notify.BridgeClientLogs(logger.L)
	return logger.L
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideObserver(reg *prometheus.Registry) (metrics.Observer, error) {
	return metrics.NewPrometheusObserver("", reg)
}

func provideStorage(lc fx.Lifecycle, log *slog.Logger, rc *boot.RuntimeConfig) (storage.Provider, error) {
	provider, err := localfs.New(log, rc.PublicDir)
	if err != nil {
		return nil, fmt.Errorf("init public dir: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return provider.Close()
		},
	})
	return provider, nil
}

func providePublisher(lc fx.Lifecycle, log *slog.Logger, rc *boot.RuntimeConfig) (notify.Publisher, error) {
	pub, err := notify.NewMQTTPublisher(log, notify.MQTTOptions{
		BrokerURL: rc.MQTTURL,
		ClientID:  rc.MQTTClientID,
		Username:  rc.MQTTUsername,
		Password:  rc.MQTTPassword,
		KeepAlive: rc.KeepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	lc.Append(fx.Hook{
		// Connecting never blocks startup; HTTP serves while the broker is down.
		OnStart: func(context.Context) error {
			pub.Connect()
			return nil
		},
		OnStop: func(context.Context) error {
			pub.Close()
			return nil
		},
	})
	return pub, nil
}

func provideNotifyService(log *slog.Logger, pub notify.Publisher, rc *boot.RuntimeConfig, observer metrics.Observer) *notify.Service {
	return notify.NewService(log, pub, rc.MQTTTopic, rc.PublishTimeout, observer)
}

func provideAssetsHandler(log *slog.Logger, service *assets.Service, observer metrics.Observer, rc *boot.RuntimeConfig) *handlers.AssetsHandler {
	return handlers.NewAssetsHandler(log, service, observer, handlers.AssetsOptions{
		PublicBaseURL:  rc.PublicBaseURL,
		MaxUploadBytes: rc.MaxUploadBytes,
	})
}

func providePushHandler(log *slog.Logger, service *notify.Service, rc *boot.RuntimeConfig) *handlers.PushHandler {
	return handlers.NewPushHandler(log, service, handlers.PushOptions{
		RateLimit: rc.PushRateLimit,
		Burst:     rc.PushRateBurst,
	})
}

func provideMetricsHandler(rc *boot.RuntimeConfig, reg *prometheus.Registry) *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(rc.MetricsPath, reg)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.RuntimeConfig.ServerAddr, params.ServerHandlers...)
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	rc *boot.RuntimeConfig,
	shutdowner fx.Shutdowner,
) {
	logger.Info("starting asset relay",
		slog.String("version", version.GetInfo()),
		slog.String("public_dir", rc.PublicDir),
		slog.String("mqtt_topic", rc.MQTTTopic),
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Bind synchronously so a busy port fails startup.
			if err := srv.Listen(); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
