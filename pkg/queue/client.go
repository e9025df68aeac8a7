package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/profilerelay/relayer/config"
	"github.com/profilerelay/relayer/pkg/types"
)

// Client hands relay work items to the asynchronous executor through a
// durable quorum queue. Publishing is at-least-once: messages are persistent
// and consumers ack manually.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
}

func NewClient(cfg *config.QueueConfig) (*Client, error) {
	connectionString := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		cfg.User,
		cfg.Password,
		cfg.Host,
		strconv.Itoa(cfg.Port))

	conn, err := amqp.Dial(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    "common_dlx",
		"x-dead-letter-routing-key": cfg.RoutingKey,
	}

	q, err := ch.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		args,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	return &Client{
		conn:    conn,
		channel: ch,
		queue:   q,
	}, nil
}

// Publish enqueues a work item for the executor.
func (c *Client) Publish(ctx context.Context, item *types.WorkItem) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	err = c.channel.PublishWithContext(ctx,
		"",           // exchange
		c.queue.Name, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("%w: failed to publish work item: %v", types.ErrUpstreamFailure, err)
	}

	log.Debug().Str("transactionId", item.TransactionID).Msg("[Queue] published work item")
	return nil
}

// Consume delivers work items to handler. Handler errors requeue the
// delivery; malformed messages are dropped to the dead-letter exchange.
func (c *Client) Consume(handler func(item *types.WorkItem) error) error {
	msgs, err := c.channel.Consume(
		c.queue.Name,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			var item types.WorkItem
			if err := json.Unmarshal(msg.Body, &item); err != nil {
				log.Error().Err(err).Msg("[Queue] failed to unmarshal work item")
				msg.Nack(false, false)
				continue
			}

			if err := handler(&item); err != nil {
				log.Error().Err(err).Str("transactionId", item.TransactionID).Msg("[Queue] work item handler failed, requeueing")
				msg.Nack(false, true)
				continue
			}
			msg.Ack(false)
		}
	}()

	return nil
}

func (c *Client) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
