package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/castgraph/internal/config"
	"github.com/OFFIS-RIT/castgraph/internal/migrations"
	"github.com/OFFIS-RIT/castgraph/internal/queue"
	"github.com/OFFIS-RIT/castgraph/internal/runner"
	"github.com/OFFIS-RIT/castgraph/internal/util"
	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"
	"github.com/OFFIS-RIT/castgraph/pkg/logger/console"
	"github.com/OFFIS-RIT/castgraph/pkg/store"
	pgstore "github.com/OFFIS-RIT/castgraph/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	cfg := config.Load()

	// GraphAiClient
	aiClient, err := cfg.NewAIClient()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}
	graphClient, err := cfg.NewGraphClient()
	if err != nil {
		logger.Fatal("Invalid analysis settings", "err", err)
	}
	fetcher, err := cfg.NewFetcher(ctx)
	if err != nil {
		logger.Fatal("Could not create document fetcher", "err", err)
	}

	// Optional result store and run leases
	var results store.ResultStorage
	var locks runner.Locker
	if cfg.DatabaseURL != "" {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			logger.Fatal("Unable to migrate database", "err", err)
		}
		pgConn, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pgConn.Close()

		results = pgstore.NewResultDBStorageWithConnection(pgConn)
		locks = leaselock.New(pgConn)
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := []string{queue.AnalysisQueue}
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	reporter := queue.NewProgressReporter(ch)
	analysisRunner := runner.NewRunner(runner.NewRunnerParams{
		Graph:     graphClient,
		Fetcher:   fetcher,
		Oracle:    cfg.NewOracle(aiClient),
		Reporter:  reporter,
		Results:   results,
		Locks:     locks,
		LeaseOpts: cfg.LeaseOptions(),
	})

	logger.Info("Listening for messages")

	// A single consumer channel with prefetch=1 delivers one analysis at a time.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(queueName)
	}

	processorDone := make(chan struct{})
	go func() {
		defer close(processorDone)
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				processingErr := queue.ProcessAnalysisMessage(ctx, analysisRunner, qm.msg.Body)

				// Send failures to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					permanent := errors.Is(processingErr, queue.ErrInvalidMessage)
					queue.RetryOrDeadLetter(context.WithoutCancel(ctx), consumerCh, qm.msg, qm.queueName, permanent)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				metrics := aiClient.GetMetrics()
				logger.Info(
					"AI Metrics",
					"input_tokens", metrics.InputTokens,
					"output_tokens", metrics.OutputTokens,
					"total_tokens", metrics.TotalTokens,
					"duration", formatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
				)
				logger.Info("Processing time", "duration", formatDuration(time.Since(startTime)))
				logger.Info("Waiting for next message")
				aiClient.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")

	select {
	case <-processorDone:
	case <-time.After(10 * time.Second):
		logger.Warn("Message processor did not stop in time")
	}

	err = reporter.PublishAll(context.Background(), common.StreamingUpdate{
		Type:    common.UpdateProgress,
		Message: "Worker shutting down",
	})
	if err != nil {
		logger.Debug("Failed to broadcast shutdown", "err", err)
	}
}

// formatDuration renders d as HH:MM:SS.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
