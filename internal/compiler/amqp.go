package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// compileMessage is the body consumed by the compilation service.
type compileMessage struct {
	MessageID string    `json:"message_id"`
	Type      string    `json:"type"`
	ProjectID uuid.UUID `json:"project_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AMQPTrigger publishes compile requests to a durable RabbitMQ queue.
type AMQPTrigger struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewAMQPTrigger dials the broker, retrying a few times while it starts up.
func NewAMQPTrigger(url, queue string) (*AMQPTrigger, error) {
	t := &AMQPTrigger{url: url, queue: queue}

	var err error
	for i := 0; i < 5; i++ {
		if err = t.connect(); err == nil {
			return t, nil
		}
		log.WithError(err).Warnf("rabbitmq not reachable, retrying in 5s (%d/5)", i+1)
		time.Sleep(5 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
}

func (t *AMQPTrigger) connect() error {
	conn, err := amqp.Dial(t.url)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

// Trigger publishes one persistent message per call. A dropped connection is
// redialled once.
func (t *AMQPTrigger) Trigger(ctx context.Context, projectID uuid.UUID) (string, error) {
	msg := compileMessage{
		MessageID: uuid.NewString(),
		Type:      "compile_video",
		ProjectID: projectID,
		CreatedAt: time.Now(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal compile message: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.conn.IsClosed() {
		if err := t.connect(); err != nil {
			return "", fmt.Errorf("failed to reconnect to rabbitmq: %w", err)
		}
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return "", fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		t.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.PublishWithContext(ctx,
		"",
		q.Name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.MessageID,
			Timestamp:    msg.CreatedAt,
			Body:         body,
		})
	if err != nil {
		return "", fmt.Errorf("failed to publish compile message: %w", err)
	}

	log.WithField("project_id", projectID).WithField("message_id", msg.MessageID).Info("compile message published")
	return msg.MessageID, nil
}

func (t *AMQPTrigger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.conn.IsClosed() {
		return nil
	}
	return t.conn.Close()
}
