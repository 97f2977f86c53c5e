package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/castgraph/internal/util"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	AnalysisQueue    = "analysis_queue"
	ProgressExchange = "progress_exchange"

	// MaxRetries is the number of redeliveries before a message goes to
	// the dead-letter queue.
	MaxRetries = 10

	retryDelay = 10 * time.Second
)

// Publisher is the publishing side of an AMQP channel. *amqp091.Channel
// implements it.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Init dials RabbitMQ using the RABBITMQ_* environment variables.
func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnvString("RABBITMQ_HOST", "localhost")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("[Queue] Failed to connect to RabbitMQ", "host", host, "port", port, "err", err)
	}

	return conn
}

// SetupQueues declares the progress exchange and, for every queue name, the
// durable work queue plus its _retry and _dlq companions. Messages in the
// retry queue dead-letter back into the work queue after retryDelay.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	err := ch.ExchangeDeclare(
		ProgressExchange,
		"topic",
		false, // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", ProgressExchange, err)
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", retryName, err)
		}
	}

	return nil
}

// PublishFIFO publishes a persistent message to a work queue.
func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte) error {
	return ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishTopic publishes a transient message to the progress exchange.
func PublishTopic(ctx context.Context, ch Publisher, topic string, data []byte) error {
	return ch.PublishWithContext(
		ctx,
		ProgressExchange,
		topic,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Transient,
			Timestamp:    time.Now(),
		},
	)
}

// RetryOrDeadLetter settles a delivery whose processing failed. The message
// is republished to the queue's _retry queue with an incremented x-retries
// header, or to its _dlq once MaxRetries is reached or the failure is
// permanent. The original delivery is acked once the copy is published.
func RetryOrDeadLetter(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, permanent bool) {
	retries := Retries(msg.Headers)

	if permanent || retries >= MaxRetries {
		dlqName := queueName + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		pubErr := ch.PublishWithContext(ctx, "", dlqName, false, false, amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      msg.Headers,
			DeliveryMode: amqp091.Persistent,
		})
		if pubErr != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	pubErr := ch.PublishWithContext(ctx, "", retryName, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// Retries reads the x-retries header.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
