package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Consumer drains change events from the bus and hands them to the
// gateway for websocket fan-out.
type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewConsumer(url, queue string) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run blocks, delivering decoded events to handle until ctx is done or
// the channel closes. Undecodable payloads are dead-lettered.
func (c *Consumer) Run(ctx context.Context, handle func(ChangeEvent)) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			var ev ChangeEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Warn().Err(err).Msg("[bus] drop undecodable event")
				_ = d.Nack(false, false)
				continue
			}
			handle(ev)
			_ = d.Ack(false)
		}
	}
}
