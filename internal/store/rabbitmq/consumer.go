package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	attemptHeader = "x-attempt"

	// DefaultMaxRetries is how many times a failed delivery is retried before
	// it is dead-lettered.
	DefaultMaxRetries = 5
)

// ErrPermanent marks a handler failure that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// Delivery is one cleanup message handed to a worker.
type Delivery struct {
	JobID   string
	Attempt int

	d amqp.Delivery
}

// Consumer receives cleanup job ids with a bounded prefetch and retries
// failures through a TTL queue before dead-lettering them.
type Consumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	maxRetries int
	backoff    time.Duration
}

type ConsumerOption func(*Consumer)

func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

func WithRetryBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.backoff = d
		}
	}
}

func NewConsumer(url, queue string, prefetch int, opts ...ConsumerOption) (*Consumer, error) {
	conn, ch, err := open(url, queue)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = closeAll(conn, ch)
		return nil, err
	}
	c := &Consumer{conn: conn, ch: ch, queue: queue, maxRetries: DefaultMaxRetries, backoff: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Consumer) Close() error {
	return closeAll(c.conn, c.ch)
}

// Consume starts delivery. The returned channel is closed when the broker
// connection goes away.
func (c *Consumer) Consume() (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.queue, "", false, false, false, false, nil)
}

// Decode parses a raw delivery. Malformed messages are rejected straight to
// the dead-letter queue and reported as an error.
func (c *Consumer) Decode(d amqp.Delivery) (*Delivery, error) {
	var m CleanupMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		_ = d.Nack(false, false)
		if err == nil {
			err = errors.New("empty job id")
		}
		return nil, err
	}
	return &Delivery{JobID: m.JobID, Attempt: attemptOf(d.Headers), d: d}, nil
}

// Settle acks the delivery on success. Failures are republished to the retry
// queue with a growing TTL until maxRetries, then dead-lettered.
func (c *Consumer) Settle(ctx context.Context, del *Delivery, handleErr error) error {
	if handleErr == nil {
		return del.d.Ack(false)
	}
	if errors.Is(handleErr, ErrPermanent) || del.Attempt >= c.maxRetries {
		return del.d.Nack(false, false)
	}

	ttl := c.backoff * time.Duration(del.Attempt+1)
	expiration := strconv.FormatInt(ttl.Milliseconds(), 10)
	if err := publish(ctx, c.ch, RetryQueue(c.queue), del.JobID, del.Attempt+1, expiration); err != nil {
		// let the broker redeliver
		_ = del.d.Nack(false, true)
		return err
	}
	return del.d.Ack(false)
}

func attemptOf(h amqp.Table) int {
	switch v := h[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
