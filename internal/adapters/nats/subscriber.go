package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/ports"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	durable string
	subs    []*nats.Subscription
}

var _ ports.EventSubscriber = (*Subscriber)(nil)

// NewSubscriber connects to NATS. durable names the job consumer shared by
// all worker replicas.
func NewSubscriber(url, durable string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := ensureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}
	if durable == "" {
		durable = "analysis-worker"
	}
	return &Subscriber{conn: conn, js: js, durable: durable}, nil
}

// SubscribeJobs delivers queued analysis jobs to handler. Undecodable
// messages are terminated; handler errors are redelivered up to three times.
func (s *Subscriber) SubscribeJobs(ctx context.Context, handler func(ctx context.Context, job *domain.AnalysisJob) error) error {
	sub, err := s.js.QueueSubscribe(SubjectJobs, s.durable, func(msg *nats.Msg) {
		var job domain.AnalysisJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			slog.Warn("dropping malformed job", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, &job); err != nil {
			_ = msg.NakWithDelay(5 * time.Second)
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(s.durable),
		nats.ManualAck(),
		nats.MaxDeliver(3),
		nats.AckWait(10*time.Minute),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
