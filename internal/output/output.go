// Package output drains the result buffer into a CSV file, a UDP socket or a
// ZMQ publisher at a fixed cadence.
package output

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/processing"
)

// Writer receives batches of samples, oldest first.
type Writer interface {
	Write(samples []processing.Sample) error
	Close() error
}

// Loop periodically moves everything queued in a result buffer to a Writer.
type Loop struct {
	name     string
	interval time.Duration
	buffer   *processing.ResultBuffer
	writer   Writer
	logger   *zap.Logger
	written  atomic.Int64
}

func NewLoop(name string, interval time.Duration, buffer *processing.ResultBuffer, writer Writer, logger *zap.Logger) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		buffer:   buffer,
		writer:   writer,
		logger:   logger,
	}
}

// Run drains the buffer every interval. When ctx is cancelled it drains once
// more so no queued sample is lost, then returns. Write errors are logged and
// the loop keeps going.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Flush()
		case <-ctx.Done():
			l.logger.Info("[output] received shutdown signal, final drain", zap.String("writer", l.name))
			l.Flush()
			return nil
		}
	}
}

// Flush writes whatever is queued right now.
func (l *Loop) Flush() {
	samples := l.buffer.Drain()
	if len(samples) == 0 {
		return
	}
	if err := l.writer.Write(samples); err != nil {
		l.logger.Warn("[output] error writing samples",
			zap.String("writer", l.name),
			zap.Int("samples", len(samples)),
			zap.Error(err),
		)
		return
	}
	l.written.Add(int64(len(samples)))
}

// Written is the number of samples handed to the writer without error.
func (l *Loop) Written() int64 {
	return l.written.Load()
}
