package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange receives audit events when none is configured.
	DefaultExchange = "oauthd.audit"

	publishTimeout = 5 * time.Second
)

// Publisher is the subset of *amqp.Channel used by AMQPSink.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events as JSON to a topic exchange. The routing key
// is the event type.
type AMQPSink struct {
	pub      Publisher
	exchange string
	logger   *slog.Logger
	closeFn  func() error
}

// NewAMQPSink wraps an existing publisher.
func NewAMQPSink(pub Publisher, exchange string, logger *slog.Logger) *AMQPSink {
	if exchange == "" {
		exchange = DefaultExchange
	}

	return &AMQPSink{pub: pub, exchange: exchange, logger: logger}
}

// DialAMQP connects to the broker at url, opens a channel and declares
// a durable topic exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}

	sink := NewAMQPSink(ch, exchange, logger)

	if err := ch.ExchangeDeclare(sink.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()

		return nil, fmt.Errorf("declaring exchange %s: %w", sink.exchange, err)
	}

	sink.closeFn = func() error {
		ch.Close()
		return conn.Close()
	}

	return sink, nil
}

// Record publishes e. Failures are logged at warn and dropped.
func (s *AMQPSink) Record(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("encoding audit event", slog.String("event", string(e.Type)), slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = s.pub.PublishWithContext(ctx, s.exchange, string(e.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    e.Time,
		Body:         body,
	})
	if err != nil {
		s.logger.Warn("publishing audit event",
			slog.String("event", string(e.Type)),
			slog.String("exchange", s.exchange),
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the channel and connection opened by DialAMQP.
func (s *AMQPSink) Close() error {
	if s.closeFn == nil {
		return nil
	}

	return s.closeFn()
}
