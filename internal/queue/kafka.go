package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrConsumerClosed is returned by Consume once the reader has been closed.
var ErrConsumerClosed = errors.New("kafka consumer closed")

// Producer writes keyed climate messages to one topic. Batch requests are
// keyed by request id and completion events by batch id, so the hash
// balancer keeps every message of one batch on one partition.
type Producer struct {
	topic  string
	writer *kafka.Writer
}

// NewProducer creates a synchronous producer for topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			// Messages are single requests or events; don't wait for a batch to fill.
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Publish writes one message and waits for the broker to acknowledge it.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads batch requests from one topic as part of a consumer group.
// Offsets are committed explicitly after each request has been handled.
type Consumer struct {
	topic  string
	reader *kafka.Reader
}

// NewConsumer creates a consumer that starts from the oldest uncommitted
// request of its group.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		topic: topic,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1 << 20, // batch requests carry at most a few thousand coordinates
			MaxWait:        time.Second,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
	}
}

// Consume blocks until the next message is available.
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fetchError(c.topic, err)
	}
	return msg, nil
}

func fetchError(topic string, err error) error {
	if errors.Is(err, io.EOF) {
		return ErrConsumerClosed
	}
	return fmt.Errorf("failed to fetch from %s: %w", topic, err)
}

// Commit marks msg as handled for the group.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit %s offset %d: %w", c.topic, msg.Offset, err)
	}
	return nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns reader statistics since the last call.
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// EnsureTopics creates the given topics on the cluster controller with a
// replication factor of one. Topics that already exist are left alone.
func EnsureTopics(brokers []string, numPartitions int, topics ...string) error {
	if len(brokers) == 0 {
		return errors.New("no brokers configured")
	}
	if numPartitions < 1 {
		numPartitions = 1
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     numPartitions,
			ReplicationFactor: 1,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topics %v: %w", topics, err)
	}
	return nil
}
