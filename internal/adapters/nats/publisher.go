package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/gpsguard/internal/core/domain"
)

// Subjects used on the broker.
const (
	SubjectReportPrefix = "gpsguard.report."
	SubjectJobPrefix    = "gpsguard.job."
	SubjectReports      = SubjectReportPrefix + ">"
	SubjectJobs         = SubjectJobPrefix + ">"
	SubjectAll          = "gpsguard.>"
)

// Streams returns the JetStream streams the service relies on.
func Streams() []nats.StreamConfig {
	return []nats.StreamConfig{
		{
			Name:      "GPSGUARD_JOBS",
			Subjects:  []string{SubjectJobs},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "GPSGUARD_REPORTS",
			Subjects:  []string{SubjectReports},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
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

	return &Publisher{conn: conn, js: js}, nil
}

func ensureStreams(js nats.JetStreamContext) error {
	for _, cfg := range Streams() {
		cfg := cfg
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// PublishReport publishes a finished analysis on gpsguard.report.<id>.
func (p *Publisher) PublishReport(ctx context.Context, analysis *domain.Analysis) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectReportPrefix+analysis.ID, data, nats.Context(ctx))
	return err
}

// PublishJob queues an analysis job on gpsguard.job.<id>.
func (p *Publisher) PublishJob(ctx context.Context, job *domain.AnalysisJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectJobPrefix+job.ID, data, nats.Context(ctx), nats.MsgId(job.ID))
	return err
}

// Conn exposes the underlying connection for plain subscriptions.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Ping reports whether the connection is up.
func (p *Publisher) Ping(ctx context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats: not connected (status %s)", p.conn.Status())
	}
	return p.conn.FlushWithContext(ctx)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("gpsguard"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
