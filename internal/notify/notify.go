// Package notify announces successfully uploaded documents to the processing worker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jo-hoe/docintake/internal/common"
)

// DocumentUploaded is published once a document's job record and payload are both stored.
type DocumentUploaded struct {
	JobID      string    `json:"job_id"`
	DocID      string    `json:"doc_id"`
	DocName    string    `json:"doc_name"`
	Location   string    `json:"location"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Notifier publishes upload events.
type Notifier interface {
	DocumentUploaded(ctx context.Context, ev DocumentUploaded) error
	Close() error
}

// AMQPNotifier publishes events as persistent JSON messages to a durable queue.
type AMQPNotifier struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

var _ Notifier = (*AMQPNotifier)(nil)

// NewAMQPNotifier dials url and declares the queue.
func NewAMQPNotifier(url, queue string) (*AMQPNotifier, error) {
	if queue == "" {
		queue = common.DefaultNotifyQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPNotifier{conn: conn, channel: ch, queue: queue}, nil
}

func (n *AMQPNotifier) DocumentUploaded(ctx context.Context, ev DocumentUploaded) error {
	msg, err := newPublishing(ev)
	if err != nil {
		return err
	}
	// amqp channels are not safe for concurrent publishing.
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.channel.PublishWithContext(ctx, "", n.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", n.queue, err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var errs []error
	if n.channel != nil {
		errs = append(errs, n.channel.Close())
	}
	if n.conn != nil {
		errs = append(errs, n.conn.Close())
	}
	return errors.Join(errs...)
}

func newPublishing(ev DocumentUploaded) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  common.ContentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.JobID,
		Timestamp:    ev.UploadedAt,
		Type:         "document.uploaded",
		Body:         body,
	}, nil
}
