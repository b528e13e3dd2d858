package relay

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/carebase/services/eventstore/internal/eventstore"
	"example.com/carebase/services/eventstore/internal/metrics"
)

// Outbox is the ledger's unprocessed-event surface the relay sweeps.
type Outbox interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]eventstore.Event, error)
	MarkProcessed(ctx context.Context, eventID string) error
	RecordError(ctx context.Context, eventID string, cause error) error
}

// Sink receives relayed events, typically the mesh's Service Bus queue.
type Sink interface {
	SendEvent(ctx context.Context, event eventstore.Event) error
}

// Indexer projects relayed events into the search index.
type Indexer interface {
	IndexEvent(ctx context.Context, event eventstore.Event) error
}

// Processor sweeps unprocessed events from the ledger, forwards them to the
// configured sink and indexer, and marks them processed. Delivery is
// at-least-once: an event whose forward fails keeps its flag and is retried
// on the next sweep, with the failure recorded on the row.
type Processor struct {
	outbox    Outbox
	sink      Sink
	indexer   Indexer
	batchSize int
	metrics   *metrics.Metrics
}

// NewProcessor creates a new relay processor. Sink and indexer may each be
// nil when the corresponding backend is not configured.
func NewProcessor(outbox Outbox, sink Sink, indexer Indexer, batchSize int, m *metrics.Metrics) *Processor {
	return &Processor{
		outbox:    outbox,
		sink:      sink,
		indexer:   indexer,
		batchSize: batchSize,
		metrics:   m,
	}
}

// ProcessBatch relays one batch of unprocessed events, oldest first, and
// returns how many were successfully relayed.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	events, err := p.outbox.FetchUnprocessed(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	log.Info().Int("count", len(events)).Msg("Relaying unprocessed events")

	relayed := 0
	for _, event := range events {
		if err := p.relayEvent(ctx, event); err != nil {
			p.metrics.IncrementCounter(metrics.RelayErrors)
			log.Error().Err(err).Str("eventID", event.ID).Msg("Failed to relay event")
			if recErr := p.outbox.RecordError(ctx, event.ID, err); recErr != nil {
				log.Error().Err(recErr).Str("eventID", event.ID).Msg("Failed to record relay error")
			}
			continue
		}

		if err := p.outbox.MarkProcessed(ctx, event.ID); err != nil {
			log.Error().Err(err).Str("eventID", event.ID).Msg("Failed to mark event as processed")
			continue
		}

		p.metrics.IncrementCounter(metrics.EventsRelayed)
		relayed++
	}

	return relayed, nil
}

func (p *Processor) relayEvent(ctx context.Context, event eventstore.Event) error {
	if p.sink != nil {
		if err := p.sink.SendEvent(ctx, event); err != nil {
			return err
		}
	}

	if p.indexer != nil {
		if err := p.indexer.IndexEvent(ctx, event); err != nil {
			return err
		}
	}

	return nil
}
