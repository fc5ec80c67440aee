package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/climate-cache/internal/protocol"
	"github.com/smukkama/climate-cache/internal/refresh"
)

// messageReader is the read side of a topic with manual commits.
type messageReader interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// BatchRunner runs one batch.
type BatchRunner interface {
	Run(ctx context.Context, req refresh.Request) (*refresh.Report, error)
}

// BatchConsumer consumes batch requests from Kafka and runs them one at a time
type BatchConsumer struct {
	consumer messageReader
	runner   BatchRunner
	log      logrus.FieldLogger
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// retryDelay is the pause after a failed fetch.
	retryDelay time.Duration
}

// NewBatchConsumer creates a new batch consumer
func NewBatchConsumer(consumer messageReader, runner BatchRunner, log logrus.FieldLogger) *BatchConsumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BatchConsumer{
		consumer: consumer,
		runner:   runner,
		log:      log.WithField("component", "batch_consumer"),
		stopCh:   make(chan struct{}),

		retryDelay: time.Second,
	}
}

// Start begins consuming requests
func (bc *BatchConsumer) Start(ctx context.Context) error {
	bc.wg.Add(1)
	go bc.run(ctx)
	return nil
}

// Stop stops the consumer after the batch in progress finishes
func (bc *BatchConsumer) Stop() {
	close(bc.stopCh)
	bc.wg.Wait()
}

func (bc *BatchConsumer) run(ctx context.Context) {
	defer bc.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgChan := make(chan kafka.Message)
	go func() {
		defer close(msgChan)
		for {
			msg, err := bc.consumer.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, ErrConsumerClosed) {
					bc.log.Warn("consumer closed, no more batch requests")
					return
				}
				bc.log.WithError(err).Error("consumer error")
				select {
				case <-time.After(bc.retryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case msgChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-bc.stopCh:
			return

		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			bc.log.WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Debug("consumed batch request")

			bc.handle(ctx, msg)

			// Commit after processing. Rejected and failed batches are
			// committed too: replaying them would fail the same way.
			if err := bc.consumer.Commit(ctx, msg); err != nil {
				bc.log.WithError(err).Error("failed to commit offset")
			}
		}
	}
}

// handle decodes and runs one request. It reports whether the batch committed.
func (bc *BatchConsumer) handle(ctx context.Context, msg kafka.Message) bool {
	parsed, err := protocol.ParseMessage(msg.Value)
	if err != nil {
		bc.log.WithError(err).WithField("offset", msg.Offset).Warn("dropping invalid batch request")
		return false
	}
	req, ok := parsed.(*protocol.BatchRequestMessage)
	if !ok {
		bc.log.WithField("offset", msg.Offset).Warnf("ignoring %T on the batch request topic", parsed)
		return false
	}

	start, end, err := req.Dates()
	if err != nil {
		bc.log.WithError(err).Warn("dropping batch request with invalid dates")
		return false
	}

	logger := bc.log.WithField("request_id", req.RequestID)
	report, err := bc.runner.Run(ctx, refresh.Request{
		Lats:        req.Lats,
		Lons:        req.Lons,
		Start:       start,
		End:         end,
		ForceUpdate: req.ForceUpdate,
		RequestID:   req.RequestID,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("batch interrupted by shutdown")
			return false
		}
		logger.WithError(err).Error("batch request failed")
		return false
	}

	logger.WithField("batch_id", report.BatchID).Info("batch request completed")
	return true
}
