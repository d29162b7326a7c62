package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"shoporder/pkg/logger"

	"github.com/google/uuid"
	amqp "github.com/streadway/amqp"
	"go.uber.org/zap"
)

// channel is the subset of *amqp.Channel the client uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Client publishes JSON events to a topic exchange and consumes them from bound queues.
type Client struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	// mu serialises every frame sent on channel: publishes, acks and nacks.
	mu sync.Mutex
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL      string
	Exchange string
}

// NewClient connects to RabbitMQ, opens a channel and declares the durable
// topic exchange events are published to.
func NewClient(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c, err := newClient(ch, cfg.Exchange)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	c.conn = conn

	logger.Info("rabbitmq connected", zap.String("exchange", cfg.Exchange))
	return c, nil
}

func newClient(ch channel, exchange string) (*Client, error) {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &Client{channel: ch, exchange: exchange}, nil
}

// Close closes the RabbitMQ channel and connection.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred during RabbitMQ client close: %v", errs)
	}
	return nil
}

// Publish marshals payload to JSON and publishes it under routingKey as a
// persistent message.
func (c *Client) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", routingKey, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Headers: amqp.Table{
			"event_type": routingKey,
		},
	}

	c.mu.Lock()
	err = c.channel.Publish(c.exchange, routingKey, false, false, msg)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	logger.Debug("event published", zap.String("routing_key", routingKey), zap.String("message_id", msg.MessageId))
	return nil
}

// Consume binds queue to the exchange with bindingKey and hands every
// delivery to handler on a background goroutine. Successful deliveries are
// acked. A failed delivery is requeued once and dropped when it fails again.
func (c *Client) Consume(queue, bindingKey string, handler func(msg amqp.Delivery) error) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available for consumption")
	}

	q, err := c.channel.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := c.channel.QueueBind(q.Name, bindingKey, c.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, bindingKey, err)
	}

	msgs, err := c.channel.Consume(
		q.Name, // queue
		"",     // consumer tag
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			c.handleDelivery(msg, handler)
		}
	}()
	return nil
}

// acknowledger is satisfied by amqp.Delivery.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// lockedAck settles a delivery while holding the client's channel lock.
type lockedAck struct {
	mu  *sync.Mutex
	ack acknowledger
}

func (l lockedAck) Ack(multiple bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ack.Ack(multiple)
}

func (l lockedAck) Nack(multiple, requeue bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ack.Nack(multiple, requeue)
}

func (c *Client) handleDelivery(msg amqp.Delivery, handler func(msg amqp.Delivery) error) {
	err := handler(msg)
	settle(lockedAck{mu: &c.mu, ack: msg}, msg.Redelivered, msg.RoutingKey, err)
}

func settle(ack acknowledger, redelivered bool, routingKey string, err error) {
	if err == nil {
		if ackErr := ack.Ack(false); ackErr != nil {
			logger.Warn("failed to ack message", zap.String("routing_key", routingKey), zap.Error(ackErr))
		}
		return
	}
	logger.Warn("failed to handle message",
		zap.String("routing_key", routingKey), zap.Bool("redelivered", redelivered), zap.Error(err))
	if nackErr := ack.Nack(false, !redelivered); nackErr != nil {
		logger.Warn("failed to nack message", zap.String("routing_key", routingKey), zap.Error(nackErr))
	}
}

// LogEvent is a consumer handler that records every order event it receives.
func LogEvent(msg amqp.Delivery) error {
	var event map[string]interface{}
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return fmt.Errorf("malformed event %s: %w", msg.MessageId, err)
	}
	logger.Info("order event received",
		zap.String("routing_key", msg.RoutingKey), zap.String("message_id", msg.MessageId), zap.Any("event", event))
	return nil
}
