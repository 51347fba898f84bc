package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/SteelMorgan/oplog-tailer/internal/config"
	"github.com/SteelMorgan/oplog-tailer/internal/oplog"
	"github.com/SteelMorgan/oplog-tailer/internal/retry"
)

const natsPublishTimeout = 5 * time.Second

func init() {
	Register("nats", func(ctx context.Context, cfg *config.Config) (Sink, error) {
		if cfg.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires NATS_URL")
		}
		return NewNatsSink(ctx, cfg.NatsURL, cfg.NatsSubject)
	})
}

// msgPublisher is the part of jetstream.JetStream the sink uses
type msgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NatsSink publishes captured entries to a JetStream subject
type NatsSink struct {
	nc       *nats.Conn
	js       msgPublisher
	subject  string
	retryCfg retry.Config
}

// NewNatsSink connects to NATS and makes sure a stream captures subject
func NewNatsSink(ctx context.Context, url, subject string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamName := sanitizeStreamName(subject)
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	return &NatsSink{nc: nc, js: js, subject: subject, retryCfg: retry.DefaultConfig()}, nil
}

// Handle publishes the entry and waits for the JetStream ack
func (n *NatsSink) Handle(ctx context.Context, entry *oplog.Entry) error {
	data, err := NewEvent(ctx, entry).Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := &nats.Msg{
		Subject: n.subject,
		Data:    data,
		Header:  nats.Header{"key": []string{entry.DocumentKey()}},
	}

	return retry.Do(ctx, n.retryCfg, func() error {
		pubCtx, cancel := context.WithTimeout(ctx, natsPublishTimeout)
		defer cancel()
		if _, err := n.js.PublishMsg(pubCtx, msg); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
		}
		return nil
	})
}

// Close releases the NATS connection
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName converts a subject to a valid JetStream stream name
func sanitizeStreamName(subject string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(subject)
}
