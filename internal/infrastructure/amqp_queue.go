package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"retailcrm/internal/interfaces"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPQueue hands webhook work to RabbitMQ so any instance can process it.
// Deliveries are acked whether or not the handler succeeds: failures are
// terminal and logged, never redelivered.
type AMQPQueue struct {
	conn     *amqp.Connection
	pubMu    sync.Mutex
	pub      *amqp.Channel
	queue    string
	prefetch int
	router   *TaskRouter
	timeout  time.Duration
	logger   zerolog.Logger
}

type AMQPOptions struct {
	URL      string
	Queue    string
	Prefetch int
	Timeout  time.Duration
}

func NewAMQPQueue(opts AMQPOptions, router *TaskRouter, logger zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(opts.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = 1
	}
	return &AMQPQueue{
		conn:     conn,
		pub:      ch,
		queue:    opts.Queue,
		prefetch: opts.Prefetch,
		router:   router,
		timeout:  opts.Timeout,
		logger:   logger.With().Str("component", "amqp").Str("queue", opts.Queue).Logger(),
	}, nil
}

// Enqueue publishes a persistent message to the default exchange.
func (q *AMQPQueue) Enqueue(ctx context.Context, task interfaces.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Type:         task.Kind,
		Timestamp:    task.EnqueuedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	q.logger.Debug().Str("task_id", task.ID).Str("kind", task.Kind).Msg("published")
	return nil
}

// Consume runs prefetch workers until ctx is cancelled or the channel closes.
func (q *AMQPQueue) Consume(ctx context.Context) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return err
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	q.logger.Info().Int("workers", q.prefetch).Msg("consumer started")

	var wg sync.WaitGroup
	for i := 0; i < q.prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.handle(ctx, d)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *AMQPQueue) handle(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if err := d.Ack(false); err != nil {
			q.logger.Warn().Err(err).Msg("ack failed")
		}
	}()

	var task interfaces.Task
	if err := json.Unmarshal(d.Body, &task); err != nil {
		q.logger.Error().Err(err).Str("message_id", d.MessageId).Msg("dropping malformed task")
		return
	}
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := q.router.Dispatch(ctx, task); err != nil {
		q.logger.Error().Err(err).Str("task_id", task.ID).Str("kind", task.Kind).Msg("task failed")
	}
}

func (q *AMQPQueue) Close() error {
	q.pubMu.Lock()
	_ = q.pub.Close()
	q.pubMu.Unlock()
	return q.conn.Close()
}
