package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/carebase/services/eventstore/config"
	"example.com/carebase/services/eventstore/internal/accelerator"
	"example.com/carebase/services/eventstore/internal/api"
	"example.com/carebase/services/eventstore/internal/ledger"
	"example.com/carebase/services/eventstore/internal/metrics"
	"example.com/carebase/services/eventstore/internal/models"
	"example.com/carebase/services/eventstore/internal/publisher"
	"example.com/carebase/services/eventstore/internal/service"
	"example.com/carebase/services/eventstore/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server exposing the event store facade and the live subscribe endpoint`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	ledgerStore := ledger.NewGormLedger(db)

	accel, err := accelerator.NewRedisAccelerator(cfg.Redis, cfg.Accelerator)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize accelerator, continuing on the ledger alone")
		accel = &accelerator.RedisAccelerator{}
	}
	defer accel.Close()

	hub := publisher.NewHub(cfg.Publisher.GlobalTopic)
	pub, err := publisher.NewRedisPublisher(cfg.Redis, cfg.Publisher, hub)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize publisher, continuing without pub/sub fan-out")
		pub = nil
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	metricsCollector := metrics.NewMetrics()

	var fanout publisher.Publisher
	if pub != nil {
		fanout = pub
		defer pub.Close()
	} else {
		fanout = publisher.NewHubOnlyPublisher(hub)
	}

	eventService := service.NewEventService(
		ledgerStore, accel, fanout, cfg.Timeouts, metricsCollector, tracer)

	server := api.NewServer(cfg, eventService, metricsCollector)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

func initDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to ledger database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to access connection pool")
	}
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err := models.SetupModels(db); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return db, nil
}
