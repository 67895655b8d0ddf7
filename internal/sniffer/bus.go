package sniffer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/studio-bridge/internal/models"
)

// Publisher pushes tuples from the sniffer process onto the NATS subject the
// server drains.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

func (p *Publisher) Publish(t models.SnifferTuple) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, data)
}

// Source is the server-side consumer of the tuple subject. It satisfies
// stream.Source: Recv blocks with a bounded empty-poll count and degrades to
// the internal-timeout sentinel instead of hanging forever when the proxy
// never emits.
type Source struct {
	sub       *nats.Subscription
	ch        chan *nats.Msg
	pollLimit int
	pollWait  time.Duration
}

func NewSource(conn *nats.Conn, subject string, pollLimit int, pollWait time.Duration) (*Source, error) {
	ch := make(chan *nats.Msg, 1024)
	sub, err := conn.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, err
	}
	return &Source{sub: sub, ch: ch, pollLimit: pollLimit, pollWait: pollWait}, nil
}

// Recv returns the next well-formed tuple. Entries that are not a JSON dict
// of the expected shape are logged and skipped without consuming a poll.
func (s *Source) Recv(ctx context.Context) (models.SnifferTuple, error) {
	for polls := 0; polls < s.pollLimit; {
		select {
		case <-ctx.Done():
			return models.SnifferTuple{}, ctx.Err()
		case msg := <-s.ch:
			var tuple models.SnifferTuple
			if err := json.Unmarshal(msg.Data, &tuple); err != nil {
				slog.Warn("Skipping malformed sniffer entry", "error", err, "bytes", len(msg.Data))
				continue
			}
			return tuple, nil
		case <-time.After(s.pollWait):
			polls++
		}
	}
	slog.Warn("Sniffer silent past poll limit", "polls", s.pollLimit)
	return models.SnifferTuple{Reason: models.InternalTimeoutReason}, nil
}

// Reset drains residue left over from a previous turn so a stale Done tuple
// cannot terminate the next one early.
func (s *Source) Reset() {
	for {
		select {
		case <-s.ch:
		default:
			return
		}
	}
}

func (s *Source) Close() error {
	return s.sub.Unsubscribe()
}
