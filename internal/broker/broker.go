package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"predmarket/internal/config"
)

var ErrNotConnected = errors.New("broker: not connected")

// ErrConsumerClosed reports a delivery stream that ended while the context
// was still live, i.e. a broker-side connection or channel loss. The owning
// process restarts the consumer.
var ErrConsumerClosed = errors.New("broker: consumer channel closed")

// Broker owns the AMQP topology and the publish/consume/retry primitives.
// Connection and channel handles are established lazily and reset on any
// close notification; in-flight consumers must be restarted by their owner.
type Broker struct {
	cfg    config.BrokerConfig
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	// republish overrides the wait-queue publish in tests; nil means
	// publishRaw on the default exchange.
	republish func(ctx context.Context, key string, body []byte, headers amqp.Table) (bool, error)
}

func New(cfg config.BrokerConfig, logger *zap.Logger) *Broker {
	if cfg.Exchange == "" {
		cfg.Exchange = "pipeline"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = DefaultRetryDelays
	}
	return &Broker{cfg: cfg, logger: logger}
}

func (b *Broker) RetryDelays() []time.Duration {
	return b.cfg.RetryDelays
}

func (b *Broker) dlxName() string {
	return b.cfg.Exchange + ".dlx"
}

func (b *Broker) retryQueueName(queue string, tier int) string {
	return fmt.Sprintf("%s.retry.%d", queue, tier+1)
}

// publishChannel returns the shared confirm-mode channel, dialing if needed.
func (b *Broker) publishChannel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelLocked()
}

func (b *Broker) channelLocked() (*amqp.Channel, error) {
	if b.ch != nil && !b.ch.IsClosed() {
		return b.ch, nil
	}
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.Dial(b.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("broker dial: %w", err)
		}
		b.conn = conn
		closed := make(chan *amqp.Error, 1)
		conn.NotifyClose(closed)
		go func() {
			if err := <-closed; err != nil && b.logger != nil {
				b.logger.Warn("broker connection closed", zap.Error(err))
			}
			b.reset()
		}()
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("broker confirm mode: %w", err)
	}
	b.ch = ch
	return ch, nil
}

// reset drops all cached handles; the next use re-dials.
func (b *Broker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ch = nil
	b.conn = nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.ch != nil && !b.ch.IsClosed() {
		err = b.ch.Close()
	}
	if b.conn != nil && !b.conn.IsClosed() {
		if cerr := b.conn.Close(); cerr != nil {
			err = cerr
		}
	}
	b.ch = nil
	b.conn = nil
	return err
}

// EnsureTopology declares the topic exchange, the per-stage durable queues
// with their dead-letter routing, the per-stage DLQs, and the TTL-based
// retry wait queues that dead-letter back into the stage queue. Wait queues
// make the retry schedule survive process restarts.
func (b *Broker) EnsureTopology(ctx context.Context) error {
	ch, err := b.publishChannel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(b.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(b.dlxName(), "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx: %w", err)
	}
	for _, q := range StageQueues {
		args := amqp.Table{
			"x-dead-letter-exchange":    b.dlxName(),
			"x-dead-letter-routing-key": q,
		}
		if _, err := ch.QueueDeclare(q, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, q, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
		if _, err := ch.QueueDeclare(dlqName(q), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlq %s: %w", dlqName(q), err)
		}
		if err := ch.QueueBind(dlqName(q), q, b.dlxName(), false, nil); err != nil {
			return fmt.Errorf("bind dlq %s: %w", dlqName(q), err)
		}
		for tier, delay := range b.cfg.RetryDelays {
			wait := b.retryQueueName(q, tier)
			waitArgs := amqp.Table{
				"x-message-ttl":             delay.Milliseconds(),
				"x-dead-letter-exchange":    b.cfg.Exchange,
				"x-dead-letter-routing-key": q,
			}
			if _, err := ch.QueueDeclare(wait, true, false, false, false, waitArgs); err != nil {
				return fmt.Errorf("declare retry queue %s: %w", wait, err)
			}
		}
	}
	return nil
}

// Publish serializes v, marks it persistent for durable queues, and waits for
// the publisher confirm. A false return means the broker refused the message
// (backpressure); callers log it, never drop it silently.
func (b *Broker) Publish(ctx context.Context, queue string, v any) (bool, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("marshal %s message: %w", queue, err)
	}
	return b.publishRaw(ctx, b.cfg.Exchange, queue, body, amqp.Table{retryCountHeader: int32(0)}, queue != QueueConfigRefresh)
}

func (b *Broker) publishRaw(ctx context.Context, exchange, key string, body []byte, headers amqp.Table, persistent bool) (bool, error) {
	ch, err := b.publishChannel()
	if err != nil {
		return false, err
	}
	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}
	b.mu.Lock()
	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	})
	b.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("publish %s: %w", key, err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return false, err
	}
	return acked, nil
}

// Handler processes one delivery body. A nil return acks the message; an
// error routes it through the retry schedule and ultimately the DLQ.
type Handler func(ctx context.Context, body []byte) error

// Consume runs a prefetch-limited consumer loop on its own channel until ctx
// is canceled. Prefetch 1 means a failure is attributable to exactly one
// message. Cancellation stops new deliveries; the in-flight handler always
// reaches ack or reject before Consume returns.
func (b *Broker) Consume(ctx context.Context, queue string, handler Handler) error {
	b.mu.Lock()
	if _, err := b.channelLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	conn := b.conn
	b.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("consumer channel %s: %w", queue, err)
	}
	defer ch.Close()

	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos %s: %w", queue, err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	for d := range deliveries {
		b.dispatch(ctx, queue, d, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrConsumerClosed
}

func (b *Broker) dispatch(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	err := handler(ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil && b.logger != nil {
			b.logger.Warn("ack failed", zap.String("queue", queue), zap.Error(ackErr))
		}
		return
	}

	retries := retryCount(d.Headers)
	if retries < len(b.cfg.RetryDelays) {
		// Republish the byte-identical body into the wait queue for this
		// tier, then ack the original. Application-side delay avoids
		// broker redelivery storms.
		headers := amqp.Table{retryCountHeader: int32(retries + 1)}
		republish := b.republish
		if republish == nil {
			republish = func(ctx context.Context, key string, body []byte, headers amqp.Table) (bool, error) {
				return b.publishRaw(ctx, "", key, body, headers, true)
			}
		}
		acked, pubErr := republish(ctx, b.retryQueueName(queue, retries), d.Body, headers)
		if pubErr != nil || !acked {
			if b.logger != nil {
				b.logger.Error("retry republish failed, requeueing",
					zap.String("queue", queue),
					zap.Int("retry", retries),
					zap.Error(pubErr),
				)
			}
			_ = d.Nack(false, true)
			return
		}
		if b.logger != nil {
			b.logger.Warn("handler failed, scheduled retry",
				zap.String("queue", queue),
				zap.Int("retry", retries+1),
				zap.Duration("delay", b.cfg.RetryDelays[retries]),
				zap.Error(err),
			)
		}
		_ = d.Ack(false)
		return
	}

	// Retries exhausted: reject without requeue so the broker dead-letters
	// the message for manual inspection.
	if b.logger != nil {
		b.logger.Error("retries exhausted, dead-lettering",
			zap.String("queue", queue),
			zap.Int("retries", retries),
			zap.Error(err),
		)
	}
	_ = d.Reject(false)
}

// ConsumeBroadcast binds a private server-named queue to the exchange under
// the given routing key and consumes it until ctx is canceled. Used for the
// config-refresh fan-out where every process gets its own copy.
func (b *Broker) ConsumeBroadcast(ctx context.Context, routingKey string, handler Handler) error {
	b.mu.Lock()
	if _, err := b.channelLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	conn := b.conn
	b.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("broadcast channel %s: %w", routingKey, err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare broadcast queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey, b.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind broadcast queue: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume broadcast %s: %w", routingKey, err)
	}
	for d := range deliveries {
		if err := handler(ctx, d.Body); err != nil && b.logger != nil {
			b.logger.Warn("broadcast handler failed", zap.String("key", routingKey), zap.Error(err))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrConsumerClosed
}

// QueueStat is a point-in-time depth reading for one stage queue and its DLQ.
type QueueStat struct {
	Queue        string `json:"queue"`
	Messages     int    `json:"messages"`
	Consumers    int    `json:"consumers"`
	DeadLettered int    `json:"dead_lettered"`
}

// QueueStats reports per-stage depths. DLQ depth is the operator-visible
// signal for poison messages.
func (b *Broker) QueueStats(ctx context.Context) ([]QueueStat, error) {
	ch, err := b.publishChannel()
	if err != nil {
		return nil, err
	}
	stats := make([]QueueStat, 0, len(StageQueues))
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range StageQueues {
		main, err := ch.QueueDeclarePassive(q, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    b.dlxName(),
			"x-dead-letter-routing-key": q,
		})
		if err != nil {
			return nil, fmt.Errorf("inspect queue %s: %w", q, err)
		}
		dlq, err := ch.QueueDeclarePassive(dlqName(q), true, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("inspect dlq %s: %w", dlqName(q), err)
		}
		stats = append(stats, QueueStat{
			Queue:        q,
			Messages:     main.Messages,
			Consumers:    main.Consumers,
			DeadLettered: dlq.Messages,
		})
	}
	return stats, nil
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
