package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultAMQPQueue = "warden.audit"

// AMQPRecorderConfig configures the RabbitMQ-backed recorder.
type AMQPRecorderConfig struct {
	URL string
	// Queue is declared on connect. Defaults to "warden.audit".
	Queue   string
	Durable bool
}

// AMQPRecorder publishes JSON entries to a RabbitMQ queue so external
// consumers (SIEM pipelines, alerting) can process them off-process.
type AMQPRecorder struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPRecorder dials RabbitMQ and declares the audit queue.
func NewAMQPRecorder(cfg AMQPRecorderConfig) (*AMQPRecorder, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = defaultAMQPQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare audit queue: %w", err)
	}
	return &AMQPRecorder{conn: conn, ch: ch, queue: queue}, nil
}

// Record implements Recorder.
func (r *AMQPRecorder) Record(ctx context.Context, e *Entry) error {
	if r == nil || r.ch == nil {
		return errors.New("amqp recorder not initialized")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	return r.ch.PublishWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
}

// Close closes the channel and connection.
func (r *AMQPRecorder) Close() error {
	if r == nil {
		return nil
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

var _ Recorder = (*AMQPRecorder)(nil)
