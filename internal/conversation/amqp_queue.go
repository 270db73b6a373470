package conversation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	amqpDeadLetterExchange = "leadbot.dlx"
	amqpPollInterval       = 200 * time.Millisecond
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
}

type amqpTopology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareAMQPTopology creates the durable start-job queue and its dead-letter
// queue ("<queue>.dlq") routed through a shared dead-letter exchange.
func DeclareAMQPTopology(ch amqpTopology, queue string) error {
	dlq := queue + ".dlq"
	if err := ch.ExchangeDeclare(amqpDeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("conversation: declare dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("conversation: declare %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, queue, amqpDeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("conversation: bind %s: %w", dlq, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    amqpDeadLetterExchange,
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("conversation: declare %s: %w", queue, err)
	}
	return nil
}

// AMQPQueue implements Queue on a RabbitMQ queue via the default exchange.
// Receipt handles are delivery tags, so Delete must use the same channel
// that received the message.
type AMQPQueue struct {
	mu    sync.Mutex
	ch    amqpChannel
	queue string
}

func NewAMQPQueue(ch amqpChannel, queue string) *AMQPQueue {
	if ch == nil {
		panic("conversation: amqp channel cannot be nil")
	}
	if queue == "" {
		panic("conversation: amqp queue name cannot be empty")
	}
	return &AMQPQueue{ch: ch, queue: queue}
}

func (q *AMQPQueue) Send(ctx context.Context, body string) error {
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		AppId:        "machinery-leadbot",
		Body:         []byte(body),
	})
	if err != nil {
		return fmt.Errorf("conversation: amqp publish: %w", err)
	}
	return nil
}

// Receive polls until at least one message arrives or waitSeconds elapse,
// then returns up to maxMessages without waiting further.
func (q *AMQPQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)

	for {
		messages, err := q.drain(maxMessages)
		if err != nil || len(messages) > 0 {
			return messages, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		if err := sleepFor(ctx, amqpPollInterval); err != nil {
			return nil, err
		}
	}
}

func (q *AMQPQueue) drain(maxMessages int) ([]QueueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var messages []QueueMessage
	for len(messages) < maxMessages {
		d, ok, err := q.ch.Get(q.queue, false)
		if err != nil {
			return messages, fmt.Errorf("conversation: amqp get: %w", err)
		}
		if !ok {
			break
		}
		id := d.MessageId
		if id == "" {
			id = strconv.FormatUint(d.DeliveryTag, 10)
		}
		messages = append(messages, QueueMessage{
			ID:            id,
			Body:          string(d.Body),
			ReceiptHandle: strconv.FormatUint(d.DeliveryTag, 10),
			Redelivered:   d.Redelivered,
		})
	}
	return messages, nil
}

func (q *AMQPQueue) Delete(_ context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	tag, err := strconv.ParseUint(receiptHandle, 10, 64)
	if err != nil {
		return fmt.Errorf("conversation: invalid amqp receipt %q: %w", receiptHandle, err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.Ack(tag, false); err != nil {
		return fmt.Errorf("conversation: amqp ack: %w", err)
	}
	return nil
}
