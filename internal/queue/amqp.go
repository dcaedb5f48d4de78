package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

var log = logger.Get("Queue")

type (
	// Config focuses solely on the broker connection items.
	Config struct {
		User     string `yaml:"username" env:"AMQP_USERNAME" env-default:"guest"`
		Password string `yaml:"password" env:"AMQP_PASSWORD" env-default:"guest"`
		Host     string `yaml:"host" env:"AMQP_HOST" env-default:"0.0.0.0"`
		Port     string `yaml:"port" env:"AMQP_PORT" env-default:"5672"`
	}

	// amqpQueue is the RabbitMQ-backed JobQueue. Queues are declared
	// durable and messages published persistent, so pending jobs survive
	// broker and process restarts.
	amqpQueue struct {
		conn *amqp.Connection
	}
)

// Connect dials the broker, retrying a fixed number of times to ride out
// slow broker start-up.
func Connect(config Config) (*amqpQueue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%s/", config.User, config.Password, config.Host, config.Port)

	attempt := 1
	for {
		conn, err := amqp.Dial(url)
		if err == nil {
			log.Emit(logger.SUCCESS, "Queue broker connection complete!\n")
			return &amqpQueue{conn: conn}, nil
		}

		if attempt >= 5 {
			log.Emit(logger.ERROR, "All attempts FAILED!\n")
			return nil, fmt.Errorf("failed to connect to queue broker: %w", err)
		}

		log.Emit(logger.WARNING, "Attempt (%v/5) failed... Retrying in 3s\n", attempt)
		attempt++
		time.Sleep(time.Second * 3)
	}
}

func (queue *amqpQueue) Close() error {
	return queue.conn.Close()
}

// IsClosed reports broker connectivity; used by the health endpoint.
func (queue *amqpQueue) IsClosed() bool {
	return queue.conn == nil || queue.conn.IsClosed()
}

func (queue *amqpQueue) Publish(ctx context.Context, queueName string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job for queue %s: %w", queueName, err)
	}

	channel, err := queue.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer channel.Close()

	declared, err := declareQueue(channel, queueName)
	if err != nil {
		return err
	}

	err = channel.PublishWithContext(ctx, "", declared.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", queueName, err)
	}

	log.Debugf("Published job to queue %s: %s\n", queueName, body)
	return nil
}

func (queue *amqpQueue) Consume(ctx context.Context, queueName string, prefetch int, handler Handler) error {
	channel, err := queue.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer channel.Close()

	if _, err := declareQueue(channel, queueName); err != nil {
		return err
	}

	if err := channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch on queue %s: %w", queueName, err)
	}

	deliveries, err := channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer on queue %s: %w", queueName, err)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for queue %s closed", queueName)
			}

			if err := handler(ctx, delivery.Body); err != nil {
				log.Warnf("Job on queue %s failed (%v); dropping without requeue\n", queueName, err)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					log.Errorf("Failed to nack job on queue %s: %v\n", queueName, nackErr)
				}
				continue
			}

			if ackErr := delivery.Ack(false); ackErr != nil {
				log.Errorf("Failed to ack job on queue %s: %v\n", queueName, ackErr)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func declareQueue(channel *amqp.Channel, queueName string) (amqp.Queue, error) {
	declared, err := channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return declared, nil
}
