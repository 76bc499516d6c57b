package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	applog "extrack/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures = 5
	openTimeout = 30 * time.Second
	maxBackoff  = 30 * time.Second
)

// BatchHandler records one batch and returns the result to reply with.
// It never fails: every problem is reported inside the result.
type BatchHandler func(ctx context.Context, msg *RecordBatchMessage) *RecordResultMessage

type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *applog.Logger

	mu      sync.RWMutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	// dialMu serialises redials; dial defaults to connect.
	dialMu sync.Mutex
	dial   func() error

	state        int32
	failureCount int64
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string, logger *applog.Logger) (*Client, error) {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger.WithComponent(applog.ComponentAMQP),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

func setup(ch *amqp091.Channel, exchangeName, queueName string) error {
	err := ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key equals the queue name on the direct exchange
	err = ch.QueueBind(queueName, queueName, exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	// Batches are recorded one at a time
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	return nil
}

func (c *Client) currentChannel() (*amqp091.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil, amqp091.ErrClosed
	}
	return c.channel, nil
}

// reconnect re-dials with exponential backoff until it succeeds or ctx ends
func (c *Client) reconnect(ctx context.Context) error {
	c.closeConn()
	for attempt := 0; ; attempt++ {
		wait := exponentialBackoff(attempt)
		c.logger.WarnContext(ctx, "Reconnecting to AMQP", "attempt", attempt+1, "backoff", wait.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if err := c.redial(ctx); err != nil {
			c.logger.ErrorContext(ctx, "AMQP reconnect failed", applog.FieldError, err)
			continue
		}
		return nil
	}
}

// redial replaces a dead connection with a fresh one. It is a no-op when
// another goroutine already restored the channel.
func (c *Client) redial(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if _, err := c.currentChannel(); err == nil {
		return nil
	}
	c.closeConn()
	dial := c.dial
	if dial == nil {
		dial = c.connect
	}
	if err := dial(); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Reconnected to AMQP")
	return nil
}

// PublishBatch enqueues a batch for the recording worker
func (c *Client) PublishBatch(ctx context.Context, msg *RecordBatchMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return errors.New("AMQP circuit breaker is open")
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.BatchID,
		Timestamp:    time.Now(),
		Body:         body,
	}
	err = c.publish(ctx, c.exchangeName, c.queueName, pub)
	if isConnectionError(err) {
		// One redial and one retry; the broker may have dropped an idle connection.
		c.logger.WarnContext(ctx, "AMQP publish failed, redialing",
			applog.FieldBatchID, msg.BatchID,
			applog.FieldError, err)
		if rerr := c.redial(ctx); rerr != nil {
			err = errors.Join(err, fmt.Errorf("redial: %w", rerr))
		} else {
			err = c.publish(ctx, c.exchangeName, c.queueName, pub)
		}
	}
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish batch %s: %w", msg.BatchID, err)
	}
	c.recordSuccess()

	c.logger.InfoContext(ctx, "Published record batch",
		applog.FieldOperation, applog.OpPublish,
		applog.FieldBatchID, msg.BatchID,
		applog.FieldRecords, len(msg.Expenses),
		"queue", c.queueName)
	return nil
}

func (c *Client) publish(ctx context.Context, exchange, key string, p amqp091.Publishing) error {
	ch, err := c.currentChannel()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(ctx, exchange, key, false, false, p)
}

// reply publishes a result to replyTo via the default exchange
func (c *Client) reply(ctx context.Context, replyTo, correlationID string, body []byte) error {
	return c.publish(ctx, "", replyTo, amqp091.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
}

// Run consumes batches until ctx is cancelled, reconnecting after
// connection failures.
func (c *Client) Run(ctx context.Context, handler BatchHandler) error {
	for {
		err := c.ConsumeBatches(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isConnectionError(err) {
			return err
		}
		c.logger.WarnContext(ctx, "AMQP connection lost", applog.FieldError, err)
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

// ConsumeBatches consumes record batches one at a time. Each delivery is
// acknowledged once handled; malformed ones are rejected without requeue.
// Handled batches are never requeued, so a failed write is not retried.
func (c *Client) ConsumeBatches(ctx context.Context, handler BatchHandler) error {
	ch, err := c.currentChannel()
	if err != nil {
		return err
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming record batches", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed: %w", amqp091.ErrClosed)
			}
			c.handleDelivery(ctx, delivery, handler, c.reply)
		}
	}
}

type replyFunc func(ctx context.Context, replyTo, correlationID string, body []byte) error

func (c *Client) handleDelivery(ctx context.Context, d amqp091.Delivery, handler BatchHandler, reply replyFunc) {
	msg, err := RecordBatchMessageFromJSON(d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to unmarshal message",
			applog.FieldOperation, applog.OpConsume,
			applog.FieldError, err)
		_ = d.Nack(false, false)
		return
	}

	result := handler(ctx, msg)

	if d.ReplyTo != "" {
		body, err := result.ToJSON()
		if err == nil {
			err = reply(ctx, d.ReplyTo, d.CorrelationId, body)
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to publish result",
				applog.FieldBatchID, msg.BatchID,
				"reply_to", d.ReplyTo,
				applog.FieldError, err)
		}
	}

	_ = d.Ack(false)
	c.logger.InfoContext(ctx, "Processed record batch",
		applog.FieldBatchID, msg.BatchID,
		"status", result.Status,
		applog.FieldRecorded, len(result.Recorded),
		applog.FieldErrors, len(result.Errors))
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.mu.RLock()
		since := time.Since(c.lastFailure)
		c.mu.RUnlock()
		if since > openTimeout {
			atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at maxBackoff
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.closeConn()
	return nil
}
