package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"import_tables/internal/domain/model"
)

const DefaultExchange = "import_exchange"

// ImportEvent is published once per terminal transition of an import.
type ImportEvent struct {
	EventID     string             `json:"event_id"`
	ID          int64              `json:"id"`
	Key         string             `json:"key"`
	Module      string             `json:"module"`
	Status      model.ImportStatus `json:"status"`
	TotalRows   int64              `json:"total_rows"`
	SuccessRows int64              `json:"success_rows"`
	FailedRows  int64              `json:"failed_rows"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// NewImportEvent builds the event for job's current state.
func NewImportEvent(job *model.ImportJob, at time.Time) ImportEvent {
	return ImportEvent{
		EventID:     uuid.NewString(),
		ID:          job.ID,
		Key:         job.Key,
		Module:      job.Module,
		Status:      job.Status,
		TotalRows:   job.TotalRows,
		SuccessRows: job.SuccessRows,
		FailedRows:  job.FailedRows,
		OccurredAt:  at.UTC(),
	}
}

// RoutingKey is import.<status>.
func (e ImportEvent) RoutingKey() string {
	return "import." + string(e.Status)
}

type Publisher interface {
	PublishImportEvent(ctx context.Context, evt ImportEvent) error
}

// amqpChannel is the subset of *amqp.Channel the publisher needs.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQPPublisher struct {
	channel  amqpChannel
	exchange string
}

// NewAMQPPublisher declares the durable topic exchange and returns a publisher on it.
func NewAMQPPublisher(channel *amqp.Channel, exchange string) (*AMQPPublisher, error) {
	return newAMQPPublisher(channel, exchange)
}

func newAMQPPublisher(channel amqpChannel, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{channel: channel, exchange: exchange}, nil
}

func (p *AMQPPublisher) PublishImportEvent(ctx context.Context, evt ImportEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	return p.channel.PublishWithContext(
		ctx,
		p.exchange,
		evt.RoutingKey(),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    evt.EventID,
			Timestamp:    evt.OccurredAt,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishImportEvent(context.Context, ImportEvent) error { return nil }

// Connection owns the broker connection and the channel publishers use.
type Connection struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
}

func Dial(url string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return &Connection{conn: conn, Channel: ch}, nil
}

func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	if err := c.Channel.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}
