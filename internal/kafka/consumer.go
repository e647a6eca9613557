package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = commit synchronously
	MaxWait        time.Duration // default 250ms
	StartOffset    int64         // kafka.FirstOffset or kafka.LastOffset; default LastOffset
}

// Consumer reads broadcast requests from a consumer group. Offsets are
// committed explicitly once a request has been handed to the manager.
type Consumer struct {
	r *kafka.Reader
}

type Message = kafka.Message

func NewConsumer(c Config) *Consumer {
	if c.MinBytes <= 0 {
		c.MinBytes = 1 << 10
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 250 * time.Millisecond
	}
	if c.StartOffset == 0 {
		c.StartOffset = kafka.LastOffset
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       c.MinBytes,
		MaxBytes:       c.MaxBytes,
		CommitInterval: c.CommitInterval,
		MaxWait:        c.MaxWait,
		StartOffset:    c.StartOffset,
	})

	return &Consumer{r: r}
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
