package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	applog "tallybot/internal/log"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	commandQueue string
	replyQueue   string
}

func NewClient(url, exchangeName, commandQueue, replyQueue string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		commandQueue: commandQueue,
		replyQueue:   replyQueue,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.commandQueue, c.replyQueue} {
		_, err = c.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// routing key mirrors the queue name on a direct exchange
		err = c.channel.QueueBind(queue, queue, c.exchangeName, false, nil)
		if err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// PublishReply publishes an outbound reply for the chat transport.
func (c *Client) PublishReply(ctx context.Context, msg ReplyMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := c.publish(ctx, c.replyQueue, msg); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published reply",
		applog.C(applog.ComponentAMQP),
		applog.FieldBotID, msg.BotID,
		applog.FieldChatID, msg.ChatID,
		"queue", c.replyQueue)
	return nil
}

// PublishBillClosed publishes a bill-closed notification.
func (c *Client) PublishBillClosed(ctx context.Context, msg BillClosedMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := c.publish(ctx, c.replyQueue, msg); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published bill closed",
		applog.C(applog.ComponentAMQP),
		applog.FieldBillID, msg.BillID,
		applog.FieldBotID, msg.BotID,
		applog.FieldChatID, msg.ChatID)
	return nil
}

// ConsumeCommands delivers inbound command messages to handler until the
// context is canceled. A handler error nacks with requeue; a malformed
// message is dropped.
func (c *Client) ConsumeCommands(ctx context.Context, handler func(*CommandMessage) error) error {
	msgs, err := c.channel.Consume(
		c.commandQueue, // queue
		"",             // consumer
		false,          // auto-ack (we want manual ack)
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming commands",
		applog.C(applog.ComponentAMQP), "queue", c.commandQueue)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping command consumption",
				applog.C(applog.ComponentAMQP), "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			msg, err := CommandMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal command",
					applog.C(applog.ComponentAMQP), applog.FieldError, err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			if err := handler(msg); err != nil {
				slog.ErrorContext(ctx, "Failed to handle command",
					applog.C(applog.ComponentAMQP),
					applog.FieldError, err,
					applog.FieldBotID, msg.BotID,
					applog.FieldChatID, msg.ChatID,
					applog.FieldKind, msg.Kind)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
