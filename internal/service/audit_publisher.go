package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/config"
	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/queue"
)

const (
	auditBufferSize  = 256
	auditDialTimeout = 3 * time.Second
	auditSendTimeout = 5 * time.Second
)

var (
	// ErrAuditBufferFull is returned when events arrive faster than the
	// broker takes them. The event is dropped; the database row remains.
	ErrAuditBufferFull = errors.New("audit publish buffer full")
	// ErrPublisherClosed is returned by Publish after Close.
	ErrPublisherClosed = errors.New("audit publisher closed")
)

// AuditPublisher mirrors audit events to a durable RabbitMQ queue. Publish
// only enqueues; one goroutine owns the broker connection, opening it
// lazily and reopening it after a failure.
type AuditPublisher struct {
	cfg config.AuditQueueConfig
	log zerolog.Logger

	events    chan []byte
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	send      func(ctx context.Context, body []byte) error

	// owned by the drain goroutine
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAuditPublisher(cfg config.AuditQueueConfig, log zerolog.Logger) *AuditPublisher {
	return newAuditPublisher(cfg, log, auditBufferSize, nil)
}

func newAuditPublisher(cfg config.AuditQueueConfig, log zerolog.Logger, size int, send func(context.Context, []byte) error) *AuditPublisher {
	p := &AuditPublisher{
		cfg:    cfg,
		log:    log,
		events: make(chan []byte, size),
		done:   make(chan struct{}),
	}
	p.send = send
	if p.send == nil {
		p.send = p.publishToBroker
	}
	p.wg.Add(1)
	go p.drain()
	return p
}

// Publish queues one event without waiting on the broker.
func (p *AuditPublisher) Publish(ctx context.Context, e model.SecurityAuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(queue.FromAuditLog(e))
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	select {
	case <-p.done:
		return ErrPublisherClosed
	default:
	}
	select {
	case p.events <- body:
		return nil
	default:
		return ErrAuditBufferFull
	}
}

func (p *AuditPublisher) drain() {
	defer p.wg.Done()
	defer p.closeConn()
	for {
		select {
		case body := <-p.events:
			p.deliver(body)
		case <-p.done:
			// flush what is already queued, stopping at the first failure
			for {
				select {
				case body := <-p.events:
					if !p.deliver(body) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (p *AuditPublisher) deliver(body []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), auditSendTimeout)
	defer cancel()
	if err := p.send(ctx, body); err != nil {
		p.log.Warn().Err(err).Msg("audit event not published")
		return false
	}
	return true
}

// channel returns an open channel with the queue declared.
func (p *AuditPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.closeConn()
	conn, err := amqp.DialConfig(p.cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(auditDialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.log.Info().Str("queue", p.cfg.Queue).Msg("audit publisher connected")
	return ch, nil
}

// publishToBroker sends one persistent JSON message.
func (p *AuditPublisher) publishToBroker(ctx context.Context, body []byte) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", p.cfg.Queue, false, false, pub); err != nil {
		p.closeConn()
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// Close stops accepting events, flushes the queued ones and releases the
// broker connection.
func (p *AuditPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *AuditPublisher) closeConn() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
