package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/carebase/services/eventstore/config"
	"example.com/carebase/services/eventstore/internal/eventstore"
)

// ElasticClient indexes events for ad-hoc querying by operators and
// reporting services. The index is a projection, never a source of truth.
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexEvent indexes one event, keyed by its ID so reindexing is idempotent.
func (c *ElasticClient) IndexEvent(ctx context.Context, event eventstore.Event) error {
	doc := map[string]interface{}{
		"id":             event.ID,
		"type":           event.Type,
		"aggregate_id":   event.AggregateID,
		"aggregate_type": event.AggregateType,
		"version":        event.Version,
		"timestamp":      event.Timestamp,
		"user_id":        event.UserID,
		"correlation_id": event.CorrelationID,
		"causation_id":   event.CausationID,
	}
	if len(event.Data) > 0 {
		doc["data"] = json.RawMessage(event.Data)
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: event.ID,
		Body:       bytes.NewReader(docJSON),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to index event")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("Elasticsearch returned error indexing event: %s", res.String())
	}

	log.Debug().Str("eventID", event.ID).Str("index", indexName).Msg("Event indexed")
	return nil
}
