// Service entry point: wires configuration, storage, the idempotency
// registry, telemetry and the workflow service, and serves the metrics and
// health endpoints.
//
// Usage:
//
//	decisionflow serve                       # start the engine
//	decisionflow serve --config config.yaml  # with a config file
//	decisionflow version                     # show version info
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/decisionflow/config"
	"github.com/BaSui01/decisionflow/idempotency"
	"github.com/BaSui01/decisionflow/internal/database"
	"github.com/BaSui01/decisionflow/internal/metrics"
	"github.com/BaSui01/decisionflow/internal/telemetry"
	"github.com/BaSui01/decisionflow/service"
	"github.com/BaSui01/decisionflow/store"
	"github.com/BaSui01/decisionflow/workflow"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		fmt.Printf("decisionflow %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`decisionflow - decision workflow engine

Commands:
  serve      Start the engine
  version    Show version info
  help       Show this help`)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Fatal("telemetry init failed", zap.Error(err))
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}
	repo, err := store.NewGormRepository(db, logger)
	if err != nil {
		logger.Fatal("repository init failed", zap.Error(err))
	}

	var registrar idempotency.Registrar
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		registrar = idempotency.NewRedisRegistrar(client, "", logger)
	} else {
		registrar = idempotency.NewMemoryRegistrar(logger)
	}

	collector := metrics.NewCollector("decisionflow", logger)

	svc, err := service.New(service.Deps{
		Repo:      repo,
		Registrar: registrar,
		Runtime: workflow.RuntimeOptions{
			MaxParallelNodes: cfg.Runtime.MaxParallelNodes,
			DispatchRate:     rate.Limit(cfg.Runtime.DispatchRate),
			DispatchBurst:    cfg.Runtime.DispatchBurst,
			Metrics:          collector,
			Logger:           logger,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("service init failed", zap.Error(err))
	}

	server := &http.Server{Addr: cfg.Server.Addr, Handler: buildMux(svc, logger)}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	if err := providers.Shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
