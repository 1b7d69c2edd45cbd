package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/totegamma/pairdata/internal/config"
	"github.com/totegamma/pairdata/internal/infra/cache"
	"github.com/totegamma/pairdata/internal/infra/database"
	"github.com/totegamma/pairdata/internal/infra/repository"
	"github.com/totegamma/pairdata/internal/interface/rest"
	"github.com/totegamma/pairdata/internal/service"
	"github.com/totegamma/pairdata/internal/usecase"
	"github.com/totegamma/pairdata/policy"
)

const serviceName = "pairdata"

func setupTraceProvider(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	conf, err := config.Load(config.Path())
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		shutdown, err := setupTraceProvider(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			logger.Error("failed to setup tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer shutdown(context.Background())
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		panic("failed to connect database")
	}

	err = database.MigratePostgres(db)
	if err != nil {
		panic("failed to migrate database")
	}

	assetRepo := repository.NewAssetRepository(db)

	var fingerprints usecase.FingerprintStore
	if conf.Server.MemcachedAddr != "" {
		fingerprints = cache.NewMemcacheFingerprintStore(database.NewMemcached(conf.Server.MemcachedAddr), conf.Pairing.FingerprintTTL)
	} else {
		logger.Warn("memcached is not configured, fingerprints are kept in process memory")
		fingerprints = cache.NewMemoryFingerprintStore(conf.Pairing.FingerprintTTL)
	}

	var signalService *service.SignalService
	var publisher usecase.SignalPublisher
	if conf.Server.RedisAddr != "" {
		signalService = service.NewSignalService(database.NewRedis(conf.Server))
		publisher = signalService
	}

	pairing := usecase.NewPairingUsecase(
		assetRepo,
		policy.NewEvaluator(assetRepo),
		service.NewLinkResolver(conf.Routing),
		fingerprints,
		publisher,
		conf.Pairing.AllowedExtensions,
		logger,
	)
	sharing := usecase.NewSharingUsecase(assetRepo, logger)
	assets := usecase.NewAssetUsecase(assetRepo, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware(serviceName))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rest.NewHandler(pairing, sharing, assets, signalService).RegisterRoutes(e)

	go func() {
		if err := e.Start(conf.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.Logger.Fatal(err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		e.Logger.Fatal(err)
	}
}
