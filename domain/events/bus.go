package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Bus carries emits between gateway instances so a connection on any
// instance receives events raised by processors on any other.
type Bus interface {
	// Publish sends env to every peer.
	Publish(ctx context.Context, env Envelope) error
	// Subscribe delivers envelopes published by peers to handler until Close.
	// ctx only bounds the subscription setup.
	Subscribe(ctx context.Context, handler func(Envelope)) error
	Close() error
}

// LocalBus is the single-instance bus: nothing leaves the process.
type LocalBus struct{}

func (LocalBus) Publish(context.Context, Envelope) error         { return nil }
func (LocalBus) Subscribe(context.Context, func(Envelope)) error { return nil }
func (LocalBus) Close() error                                    { return nil }

func encodeEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// RedisBus fans out over a Redis pub/sub channel.
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	log     *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisBus creates a bus on channel.
func NewRedisBus(rdb redis.UniversalClient, channel string, log *slog.Logger) *RedisBus {
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		log:     log.With(logger.Scope("events.bus"), slog.String("bus", "redis")),
	}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, handler func(Envelope)) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	// wait for the subscription to be confirmed so no publish after Start is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.pubsub = ps
	b.mu.Unlock()

	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("dropping malformed envelope", logger.Error(err))
				continue
			}
			handler(env)
		}
	}()

	b.log.Info("subscribed to realtime channel", slog.String("channel", b.channel))
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	ps := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()
	if ps == nil {
		return nil
	}
	err := ps.Close()
	b.wg.Wait()
	return err
}

// AMQPBus fans out over a RabbitMQ fanout exchange. Every instance consumes
// through its own exclusive auto-deleted queue.
type AMQPBus struct {
	conn     *amqp.Connection
	pub      *amqp.Channel
	exchange string
	log      *slog.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewAMQPBus dials url and declares the fanout exchange.
func NewAMQPBus(url, exchange string, log *slog.Logger) (*AMQPBus, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: 10 * time.Second, Locale: "en_US"})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPBus{
		conn:     conn,
		pub:      ch,
		exchange: exchange,
		log:      log.With(logger.Scope("events.bus"), slog.String("bus", "amqp")),
	}, nil
}

func (b *AMQPBus) Publish(ctx context.Context, env Envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pub.PublishWithContext(ctx,
		b.exchange, // exchange
		"",         // routing key, ignored by fanout
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        data,
			Timestamp:   env.Frame.Timestamp,
		},
	)
}

func (b *AMQPBus) Subscribe(_ context.Context, handler func(Envelope)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(
		q.Name, // queue
		"",     // consumer tag
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // arguments
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume: %w", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for d := range deliveries {
			env, err := decodeEnvelope(d.Body)
			if err != nil {
				b.log.Warn("dropping malformed envelope", logger.Error(err))
				continue
			}
			handler(env)
		}
	}()

	b.log.Info("consuming realtime exchange",
		slog.String("exchange", b.exchange),
		slog.String("queue", q.Name))
	return nil
}

// Close closes the connection, which ends every consumer.
func (b *AMQPBus) Close() error {
	err := b.conn.Close()
	b.wg.Wait()
	return err
}
