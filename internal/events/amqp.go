package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"noisemap/internal/config"
	"noisemap/internal/logging"
)

var (
	// ErrPublisherClosed is returned by PublishAchievement after Close.
	ErrPublisherClosed = errors.New("publisher closed")
	// ErrBrokerUnavailable is returned while the broker cannot be redialled.
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

// amqpSession is one connection plus its publishing channel. Done is closed
// once either of them is closed by the broker or the network.
type amqpSession interface {
	Publish(exchange, routingKey string, msg amqp.Publishing) error
	Done() <-chan struct{}
	Close() error
}

type dialFunc func(cfg config.EventsConfig) (amqpSession, error)

// AMQPPublisher publishes JSON events to a durable direct exchange on
// RabbitMQ with persistent delivery.
//
// Go Learning Note — Guarding a non-thread-safe handle:
// An amqp.Channel must not be used by several goroutines at once for
// publishing, so every Publish takes mu. A pool of channels would scale
// further; one is plenty at this event rate.
//
// A session closed by the broker is replaced lazily: the next publish redials,
// and a publish that fails on a live-looking session is retried once on a
// fresh one. Failed dials are not repeated before ReconnectDelay has passed.
type AMQPPublisher struct {
	mu         sync.Mutex
	cfg        config.EventsConfig
	dial       dialFunc
	session    amqpSession
	nextDial   time.Time
	now        func() time.Time
	closed     bool
	exchange   string
	routingKey string
	log        zerolog.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg config.EventsConfig) (*AMQPPublisher, error) {
	return newAMQPPublisher(cfg, dialBroker)
}

func newAMQPPublisher(cfg config.EventsConfig, dial dialFunc) (*AMQPPublisher, error) {
	session, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	p := &AMQPPublisher{
		cfg:        cfg,
		dial:       dial,
		session:    session,
		now:        time.Now,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		log:        logging.Component("events"),
	}
	p.log.Info().Str("exchange", cfg.Exchange).Str("routing_key", cfg.RoutingKey).Msg("amqp publisher ready")
	return p, nil
}

func (p *AMQPPublisher) PublishAchievement(ctx context.Context, e AchievementAwarded) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := e.Encode()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    e.EventID,
		Timestamp:    time.Now(),
		Type:         "achievement.awarded",
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}

	session, err := p.current()
	if err != nil {
		return err
	}
	err = session.Publish(p.exchange, p.routingKey, msg)
	if err == nil {
		return nil
	}

	// The close notification may not have arrived yet.
	p.log.Warn().Err(err).Str("event_id", e.EventID).Msg("publish failed, redialling broker")
	p.drop(session)
	session, dialErr := p.current()
	if dialErr != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := session.Publish(p.exchange, p.routingKey, msg); err != nil {
		p.drop(session)
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// current returns a live session, dialling a new one when the previous one
// was closed. Callers hold mu.
func (p *AMQPPublisher) current() (amqpSession, error) {
	if p.session != nil {
		select {
		case <-p.session.Done():
			p.drop(p.session)
		default:
			return p.session, nil
		}
	}

	if p.now().Before(p.nextDial) {
		return nil, ErrBrokerUnavailable
	}
	session, err := p.dial(p.cfg)
	if err != nil {
		p.nextDial = p.now().Add(p.cfg.ReconnectDelay)
		p.log.Warn().Err(err).Dur("retry_in", p.cfg.ReconnectDelay).Msg("broker redial failed")
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	p.session = session
	p.nextDial = time.Time{}
	p.log.Info().Str("exchange", p.exchange).Msg("amqp publisher reconnected")
	return session, nil
}

func (p *AMQPPublisher) drop(session amqpSession) {
	_ = session.Close()
	if p.session == session {
		p.session = nil
	}
}

// Close closes the current session. Later publishes fail with
// ErrPublisherClosed.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

// brokerSession is the streadway implementation of amqpSession.
type brokerSession struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	done    chan struct{}
}

func dialBroker(cfg config.EventsConfig) (amqpSession, error) {
	conn, err := amqp.DialConfig(cfg.AMQPURL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(cfg.DialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		cfg.Exchange, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	s := &brokerSession{conn: conn, channel: channel, done: make(chan struct{})}
	// Buffered so the library never blocks delivering the close reason.
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := channel.NotifyClose(make(chan *amqp.Error, 1))
	go s.watch(connClosed, chanClosed)
	return s, nil
}

func (s *brokerSession) watch(connClosed, chanClosed <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chanClosed:
	}
	if reason != nil {
		log := logging.Component("events")
		log.Warn().
			Int("code", reason.Code).
			Str("reason", reason.Reason).
			Bool("server", reason.Server).
			Msg("amqp session closed")
	}
	close(s.done)
}

func (s *brokerSession) Publish(exchange, routingKey string, msg amqp.Publishing) error {
	return s.channel.Publish(
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
}

func (s *brokerSession) Done() <-chan struct{} {
	return s.done
}

// Close closes the channel and then the connection.
func (s *brokerSession) Close() error {
	var firstErr error
	if err := s.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		firstErr = err
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
