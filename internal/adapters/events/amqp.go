package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// AMQPSink publishes events to a topic exchange with the event type as the
// routing key. A broken channel is redialed on the next send.
type AMQPSink struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	s := &AMQPSink{url: url, exchange: exchange}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dial(); err != nil {
		return nil, err
	}
	return s, nil
}

// dial requires s.mu.
func (s *AMQPSink) dial() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		s.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // auto-delete
		false,      // internal
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", s.exchange, err)
	}
	s.conn, s.ch = conn, ch
	log.Info().Str("module", "events").Str("exchange", s.exchange).Msg("connected to amqp")
	return nil
}

func (s *AMQPSink) Send(_ context.Context, ev domain.CallEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Type:         string(ev.Type),
		Body:         body,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		if err := s.dial(); err != nil {
			return err
		}
	}
	err = s.ch.Publish(s.exchange, string(ev.Type), false, false, msg)
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Str("module", "events").Msg("publish failed, redialing")
	s.reset()
	if err := s.dial(); err != nil {
		return err
	}
	return s.ch.Publish(s.exchange, string(ev.Type), false, false, msg)
}

// reset requires s.mu.
func (s *AMQPSink) reset() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn, s.ch = nil, nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn, s.ch = nil, nil
	return err
}

// DialAMQPSink retries NewAMQPSink until it succeeds or ctx ends; brokers
// often come up after us.
func DialAMQPSink(ctx context.Context, url, exchange string) (*AMQPSink, error) {
	for {
		s, err := NewAMQPSink(url, exchange)
		if err == nil {
			return s, nil
		}
		log.Warn().Err(err).Str("module", "events").Msg("amqp not ready, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
