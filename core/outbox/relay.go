package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core/config"
	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/relabs-tech/geocatalog/core/metrics"
	"github.com/relabs-tech/geocatalog/core/store"
)

// DefaultBatchSize is the batch size of a relay without explicit configuration
const DefaultBatchSize = 100

// Relay moves events from the outbox table to a sink
type Relay struct {
	Store     *store.Store
	Sink      Sink
	BatchSize int
	// Metrics is optional
	Metrics *metrics.Metrics
}

// RunOnce relays one batch of events in insertion order and returns the number of
// delivered events. Delivered events are deleted. If the sink fails, every event of the
// batch loses one attempt and stays in the outbox; events without attempts left are
// not fetched again and hold back the later events of their resource.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	rlog := logger.FromContext(ctx)

	delivered := 0
	var deliveryErr error
	err := r.Store.InTransaction(ctx, func(tx *sqlx.Tx) error {
		rows, err := store.FetchOutboxEvents(ctx, tx, r.Store.DB.Dialect(), batchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		events := make([]Event, len(rows))
		for i, row := range rows {
			events[i] = eventFromRow(row)
		}

		if deliveryErr = r.Sink.Deliver(ctx, events); deliveryErr != nil {
			rlog.WithError(deliveryErr).Errorf("Error 4100: could not deliver %d events", len(events))
			for _, row := range rows {
				if err := store.DecrementOutboxAttempts(ctx, tx, row.Serial); err != nil {
					return err
				}
				if row.AttemptsLeft == 1 {
					logger.FromContext(logger.ContextWithLoggerFromData(context.Background(), []byte(row.LoggerContext))).
						Errorf("Error 4101: giving up on %s event %s for %s", row.Operation, row.ID, row.ResourceID)
				}
			}
			r.record(metrics.ResultFailed, len(rows))
			return nil
		}

		for _, row := range rows {
			if err := store.DeleteOutboxEvent(ctx, tx, row.Serial); err != nil {
				return err
			}
		}
		delivered = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if delivered > 0 {
		r.record(metrics.ResultDelivered, delivered)
		rlog.Debugf("relayed %d events", delivered)
	}
	return delivered, deliveryErr
}

// Drain relays batches until the outbox holds no deliverable events or delivery fails
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.RunOnce(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

// Run drains the outbox every interval until ctx is done. Delivery errors are logged and
// retried on the next tick.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	rlog := logger.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			rlog.WithError(err).Errorln("Error 4102: outbox relay failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Start runs the relay in the background until ctx is done or stop is called. stop
// waits for the relay to return before it closes the sink, it must be called once.
func (r *Relay) Start(ctx context.Context, interval time.Duration) (stop func() error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, interval)
	}()
	return func() error {
		cancel()
		<-done
		return r.Sink.Close()
	}
}

func (r *Relay) record(result string, n int) {
	if r.Metrics != nil {
		r.Metrics.RecordOutboxEvents(result, n)
	}
}

// NewSink returns the sink selected by the configuration: Kafka when brokers are
// configured, SQS when a queue is configured, and the log otherwise
func NewSink(ctx context.Context, cfg *config.Config) (Sink, error) {
	switch {
	case len(cfg.KafkaBrokers) > 0:
		logger.FromContext(ctx).Infoln("relaying change events to kafka topic", cfg.KafkaTopic)
		return NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case cfg.SQSQueueURL != "":
		logger.FromContext(ctx).Infoln("relaying change events to", cfg.SQSQueueURL)
		return NewSQSSink(ctx, cfg.SQSQueueURL, cfg.AWSRegion, cfg.AWSAccessID, cfg.AWSAccessKey)
	}
	logger.FromContext(ctx).Infoln("relaying change events to the log")
	return LogSink{}, nil
}
