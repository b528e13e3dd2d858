package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/carebase/services/eventstore/config"
	"example.com/carebase/services/eventstore/internal/ledger"
	"example.com/carebase/services/eventstore/internal/messaging"
	"example.com/carebase/services/eventstore/internal/metrics"
	"example.com/carebase/services/eventstore/internal/relay"
	"example.com/carebase/services/eventstore/internal/search"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that relays durably stored events to Service Bus and the search index`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	g, ctx := errgroup.WithContext(ctx)

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	ledgerStore := ledger.NewGormLedger(db)

	var sink relay.Sink
	if cfg.Azure.QueueConnStr != "" {
		busClient, err := messaging.NewServiceBusClient(cfg.Azure)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Service Bus client, continuing without queue relay")
		} else {
			sink = busClient
			defer busClient.Close()
		}
	}

	var indexer relay.Indexer
	if cfg.Elastic.Enabled {
		elasticClient, err := search.NewElasticClient(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without indexing")
		} else {
			indexer = elasticClient
		}
	}

	metricsCollector := metrics.NewMetrics()
	processor := relay.NewProcessor(ledgerStore, sink, indexer, cfg.Relay.BatchSize, metricsCollector)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Relay.Interval),
		gocron.NewTask(func() {
			relayed, err := processor.ProcessBatch(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Relay sweep failed")
				return
			}
			if relayed > 0 {
				log.Info().Int("relayed", relayed).Msg("Relay sweep complete")
			}
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule relay sweep")
	}

	scheduler.Start()
	log.Info().Dur("interval", cfg.Relay.Interval).Msg("Worker started")

	g.Go(func() error {
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker shutdown error")
	}

	log.Info().Msg("Shutting down worker")
	return nil
}
