package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPort carries envelopes over RabbitMQ. A process consumes its own
// queue and publishes to its peer's queue through the default exchange.
// Envelopes for several endpoints share the queues; use a Mux to split
// them by target name.
type AMQPPort struct {
	name   string
	peer   string
	log    *slog.Logger
	conn   *amqp.Connection
	ch     *amqp.Channel
	msgs   <-chan amqp.Delivery
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

// DialAMQP connects to url, starts consuming the queue called name and
// sends to the queue called peer.
func DialAMQP(url, name, peer string, logger *slog.Logger) (*AMQPPort, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := ch.QueueDeclare(name, false, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	if _, err := ch.QueueDeclare(peer, false, true, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", peer, err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume %s: %w", name, err)
	}
	logger.Info("amqp port ready", "queue", q.Name, "peer", peer)
	return &AMQPPort{
		name:   name,
		peer:   peer,
		log:    logger,
		conn:   conn,
		ch:     ch,
		msgs:   msgs,
		closed: make(chan struct{}),
	}, nil
}

// Send publishes m as JSON to the peer queue.
func (p *AMQPPort) Send(ctx context.Context, m *Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", p.peer, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		AppId:       p.name,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.peer, err)
	}
	return nil
}

// Recv returns the next envelope of the endpoint's queue. Bodies that are
// not envelopes are logged and skipped.
func (p *AMQPPort) Recv(ctx context.Context) (*Message, error) {
	for {
		select {
		case d, ok := <-p.msgs:
			if !ok {
				return nil, ErrClosed
			}
			var m Message
			if err := json.Unmarshal(d.Body, &m); err != nil {
				p.log.Warn("dropping malformed message", "queue", p.name, "message_id", d.MessageId, "error", err)
				continue
			}
			return &m, nil
		case <-p.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close closes the channel and the connection.
func (p *AMQPPort) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		if cerr := p.ch.Close(); cerr != nil {
			err = fmt.Errorf("close channel: %w", cerr)
		}
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close connection: %w", cerr)
		}
	})
	return err
}
