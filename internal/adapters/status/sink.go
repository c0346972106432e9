package status

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bnema/devsession/internal/domain"
	"github.com/bnema/devsession/internal/ports"
	"go.uber.org/zap"
)

// WriterSink prints each status payload on its own line.
type WriterSink struct {
	mu  sync.Mutex
	out io.Writer
}

var _ ports.StatusSink = (*WriterSink)(nil)

func NewWriterSink(out io.Writer) *WriterSink {
	return &WriterSink{out: out}
}

func (s *WriterSink) Post(_ context.Context, msg domain.Message) {
	if msg.Type != domain.MessageStatus {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = fmt.Fprintln(s.out, msg.Payload)
}

type LogSink struct {
	logger *zap.Logger
}

var _ ports.StatusSink = (*LogSink)(nil)

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Post(_ context.Context, msg domain.Message) {
	s.logger.Info("status", zap.String("type", string(msg.Type)), zap.String("payload", msg.Payload))
}

// Multi fans a message out to every sink in order. Nil sinks are skipped.
type Multi []ports.StatusSink

var _ ports.StatusSink = Multi(nil)

func (m Multi) Post(ctx context.Context, msg domain.Message) {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		sink.Post(ctx, msg)
	}
}
