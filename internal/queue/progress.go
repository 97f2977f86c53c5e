package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const broadcastTopic = "broadcast"

// ProgressMsg carries one streaming update across processes.
type ProgressMsg struct {
	SessionKey string                 `json:"sessionKey,omitempty"`
	Broadcast  bool                   `json:"broadcast,omitempty"`
	Update     common.StreamingUpdate `json:"update"`
}

// ProgressTopic is the routing key of a session's updates.
func ProgressTopic(sessionKey string) string {
	return "session." + sessionKey
}

// HubPublisher is the local delivery side that relayed updates go to.
// *progress.Hub implements it.
type HubPublisher interface {
	Publish(ctx context.Context, sessionKey string, update common.StreamingUpdate) error
	PublishAll(ctx context.Context, update common.StreamingUpdate) error
}

// ProgressReporter publishes run updates to the progress exchange so that
// any server process can relay them to its subscribers.
type ProgressReporter struct {
	ch Publisher
}

func NewProgressReporter(ch Publisher) *ProgressReporter {
	return &ProgressReporter{ch: ch}
}

// Publish implements graph.Reporter.
func (p *ProgressReporter) Publish(ctx context.Context, sessionKey string, update common.StreamingUpdate) error {
	data, err := json.Marshal(ProgressMsg{SessionKey: sessionKey, Update: update})
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return PublishTopic(ctx, p.ch, ProgressTopic(sessionKey), data)
}

// PublishAll sends update to every session on every server.
func (p *ProgressReporter) PublishAll(ctx context.Context, update common.StreamingUpdate) error {
	data, err := json.Marshal(ProgressMsg{Broadcast: true, Update: update})
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return PublishTopic(ctx, p.ch, broadcastTopic, data)
}

// DeliverProgress decodes a relayed progress message and hands it to hub.
func DeliverProgress(ctx context.Context, hub HubPublisher, body []byte) error {
	var msg ProgressMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	if msg.Broadcast {
		return hub.PublishAll(ctx, msg.Update)
	}
	if msg.SessionKey == "" {
		return fmt.Errorf("progress message without session key")
	}
	return hub.Publish(ctx, msg.SessionKey, msg.Update)
}

// RelayProgress consumes the progress exchange through an exclusive,
// auto-deleted queue and delivers every message to hub until ctx is done
// or the channel closes.
func RelayProgress(ctx context.Context, ch *amqp091.Channel, hub HubPublisher) error {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare relay queue: %w", err)
	}
	for _, key := range []string{ProgressTopic("#"), broadcastTopic} {
		if err := ch.QueueBind(q.Name, key, ProgressExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind relay queue: %w", err)
		}
	}

	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume relay queue: %w", err)
	}

	logger.Info("[Queue] Relaying progress updates", "queue", q.Name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("relay channel closed")
			}
			if err := DeliverProgress(ctx, hub, d.Body); err != nil {
				logger.Warn("[Queue] Dropping progress message", "err", err)
			}
		}
	}
}
