package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/castgraph/pkg/common"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acked  int
	nacked int
}

func (a *fakeAck) Ack(uint64, bool) error        { a.acked++; return nil }
func (a *fakeAck) Nack(uint64, bool, bool) error { a.nacked++; return nil }
func (a *fakeAck) Reject(uint64, bool) error     { return nil }

func TestRetryOrDeadLetter(t *testing.T) {
	tests := []struct {
		name        string
		headers     amqp091.Table
		permanent   bool
		publishErr  error
		wantQueue   string
		wantRetries int
		wantAck     int
		wantNack    int
	}{
		{name: "first failure", wantQueue: "analysis_queue_retry", wantRetries: 1, wantAck: 1},
		{name: "later failure", headers: amqp091.Table{"x-retries": int32(4)}, wantQueue: "analysis_queue_retry", wantRetries: 5, wantAck: 1},
		{name: "retries exhausted", headers: amqp091.Table{"x-retries": int32(10)}, wantQueue: "analysis_queue_dlq", wantRetries: 10, wantAck: 1},
		{name: "permanent failure", permanent: true, wantQueue: "analysis_queue_dlq", wantAck: 1},
		{name: "publish fails", publishErr: errors.New("channel closed"), wantNack: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{err: tt.publishErr}
			ack := &fakeAck{}
			msg := amqp091.Delivery{Acknowledger: ack, Headers: tt.headers, Body: []byte(`{}`)}

			RetryOrDeadLetter(context.Background(), pub, msg, AnalysisQueue, tt.permanent)

			if ack.acked != tt.wantAck || ack.nacked != tt.wantNack {
				t.Errorf("acked %d nacked %d, want %d and %d", ack.acked, ack.nacked, tt.wantAck, tt.wantNack)
			}
			if tt.wantQueue == "" {
				return
			}
			if len(pub.sent) != 1 || pub.sent[0].key != tt.wantQueue {
				t.Fatalf("sent = %+v, want one message to %s", pub.sent, tt.wantQueue)
			}
			if got := Retries(pub.sent[0].msg.Headers); got != tt.wantRetries {
				t.Errorf("x-retries = %d, want %d", got, tt.wantRetries)
			}
		})
	}
}

func TestRetryOrDeadLetterKeepsOriginalHeaders(t *testing.T) {
	headers := amqp091.Table{"x-retries": int32(1)}
	pub := &fakePublisher{}
	RetryOrDeadLetter(context.Background(), pub, amqp091.Delivery{Acknowledger: &fakeAck{}, Headers: headers}, AnalysisQueue, false)

	if Retries(headers) != 1 {
		t.Error("original delivery headers were modified")
	}
}

type fakeHub struct {
	sessions  map[string][]common.StreamingUpdate
	broadcast []common.StreamingUpdate
}

func (h *fakeHub) Publish(_ context.Context, key string, u common.StreamingUpdate) error {
	if h.sessions == nil {
		h.sessions = make(map[string][]common.StreamingUpdate)
	}
	h.sessions[key] = append(h.sessions[key], u)
	return nil
}

func (h *fakeHub) PublishAll(_ context.Context, u common.StreamingUpdate) error {
	h.broadcast = append(h.broadcast, u)
	return nil
}

func TestProgressRoundTrip(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	reporter := NewProgressReporter(pub)

	index, total := 1, 4
	update := common.StreamingUpdate{
		Type:         common.UpdateBatchComplete,
		BatchIndex:   &index,
		TotalBatches: &total,
		Data:         common.BatchSnapshot{IsComplete: false},
		Message:      "Batch 2 of 4 complete",
	}
	if err := reporter.Publish(ctx, "abc", update); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := reporter.PublishAll(ctx, common.StreamingUpdate{Type: common.UpdateProgress, Message: "hello"}); err != nil {
		t.Fatalf("PublishAll() error = %v", err)
	}

	if pub.sent[0].exchange != ProgressExchange || pub.sent[0].key != "session.abc" {
		t.Errorf("published to %s/%s", pub.sent[0].exchange, pub.sent[0].key)
	}
	if pub.sent[1].key != "broadcast" {
		t.Errorf("broadcast routed to %s", pub.sent[1].key)
	}

	hub := &fakeHub{}
	for _, p := range pub.sent {
		if err := DeliverProgress(ctx, hub, p.msg.Body); err != nil {
			t.Fatalf("DeliverProgress() error = %v", err)
		}
	}

	got := hub.sessions["abc"]
	if len(got) != 1 || got[0].Type != common.UpdateBatchComplete || *got[0].BatchIndex != 1 || got[0].Message != "Batch 2 of 4 complete" {
		t.Errorf("relayed = %+v", got)
	}
	if len(hub.broadcast) != 1 || hub.broadcast[0].Message != "hello" {
		t.Errorf("broadcast = %+v", hub.broadcast)
	}
}

func TestDeliverProgressRejectsBadMessages(t *testing.T) {
	for _, body := range []string{`not json`, `{"update":{"type":"progress"}}`} {
		if err := DeliverProgress(context.Background(), &fakeHub{}, []byte(body)); err == nil {
			t.Errorf("DeliverProgress(%s) error = nil", body)
		}
	}
}

type runnerFunc func(ctx context.Context, job common.AnalysisJob) error

func (f runnerFunc) Run(ctx context.Context, job common.AnalysisJob) error { return f(ctx, job) }

func TestProcessAnalysisMessage(t *testing.T) {
	var ran []common.AnalysisJob
	ok := runnerFunc(func(_ context.Context, job common.AnalysisJob) error {
		ran = append(ran, job)
		return nil
	})

	if err := ProcessAnalysisMessage(context.Background(), ok, []byte(`{"sessionKey":" s1 ","documentId":"1513"}`)); err != nil {
		t.Fatalf("ProcessAnalysisMessage() error = %v", err)
	}
	if len(ran) != 1 || ran[0].SessionKey != "s1" || ran[0].DocumentID != "1513" {
		t.Errorf("ran = %+v", ran)
	}

	for _, body := range []string{`{`, `{"sessionKey":"s1"}`, `{"documentId":"1"}`} {
		err := ProcessAnalysisMessage(context.Background(), ok, []byte(body))
		if !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("ProcessAnalysisMessage(%s) error = %v, want ErrInvalidMessage", body, err)
		}
	}
}

func TestProcessAnalysisMessageRunFailure(t *testing.T) {
	failing := runnerFunc(func(context.Context, common.AnalysisJob) error {
		return errors.New("fetch failed")
	})
	body := []byte(`{"sessionKey":"s","documentId":"1"}`)

	if err := ProcessAnalysisMessage(context.Background(), failing, body); err != nil {
		t.Errorf("failed run returned %v, want nil (not retried)", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ProcessAnalysisMessage(ctx, failing, body); err == nil {
		t.Error("interrupted run returned nil, want error for redelivery")
	}
}

func TestEnqueueAnalysis(t *testing.T) {
	pub := &fakePublisher{}
	job := common.AnalysisJob{SessionKey: "s", DocumentID: "84"}
	if err := EnqueueAnalysis(context.Background(), pub, job); err != nil {
		t.Fatalf("EnqueueAnalysis() error = %v", err)
	}
	if pub.sent[0].exchange != "" || pub.sent[0].key != AnalysisQueue || pub.sent[0].msg.DeliveryMode != amqp091.Persistent {
		t.Errorf("sent = %+v", pub.sent[0])
	}
	var got common.AnalysisJob
	if err := json.Unmarshal(pub.sent[0].msg.Body, &got); err != nil || got != job {
		t.Errorf("body = %s", pub.sent[0].msg.Body)
	}
}
