// Package stream turns a tuple source — sniffer or DOM scrape — into
// OpenAI-compatible responses.
package stream

import (
	"context"
	"time"

	"github.com/aigoflow/studio-bridge/internal/models"
)

// Source yields SnifferTuples for one turn. Both acquisition strategies
// satisfy it, so the assembler never knows which one ran. Recv blocks until a
// tuple is available, the source decides it has gone silent (it then emits
// the internal-timeout sentinel), or ctx is cancelled.
type Source interface {
	Recv(ctx context.Context) (models.SnifferTuple, error)
}

// TextSource adapts a fully scraped response to the Source contract by
// slicing it into fixed-size pieces with a small inter-chunk delay. The
// streaming contract is preserved for clients even though the underlying
// read was not incremental.
type TextSource struct {
	text      string
	chunkSize int
	delay     time.Duration
	pos       int
	done      bool
}

func NewTextSource(text string, chunkSize int, delay time.Duration) *TextSource {
	if chunkSize <= 0 {
		chunkSize = 64
	}
	return &TextSource{text: text, chunkSize: chunkSize, delay: delay}
}

func (s *TextSource) Recv(ctx context.Context) (models.SnifferTuple, error) {
	if err := ctx.Err(); err != nil {
		return models.SnifferTuple{}, err
	}
	if s.done {
		return models.SnifferTuple{Body: s.text, Done: true}, nil
	}
	if s.pos > 0 && s.delay > 0 {
		select {
		case <-ctx.Done():
			return models.SnifferTuple{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}

	next := s.pos + s.chunkSize
	if next >= len(s.text) {
		next = len(s.text)
		s.done = true
	}
	// Avoid splitting a multi-byte rune across chunks.
	for next < len(s.text) && next > s.pos && (s.text[next]&0xC0) == 0x80 {
		next--
	}
	if next <= s.pos {
		next = len(s.text)
		s.done = true
	}
	s.pos = next
	return models.SnifferTuple{Body: s.text[:next], Done: s.done}, nil
}
