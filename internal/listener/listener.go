// Package listener receives the binary UDP datagrams sent by the udp output
// mode and decodes them back into doubles.
package listener

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"go.uber.org/zap"
)

const maxDatagram = 65535

// Decode reads n doubles from data. With n <= 0 every whole double in data is
// decoded.
func Decode(data []byte, n int, order binary.ByteOrder) ([]float64, error) {
	if n <= 0 {
		n = len(data) / 8
	}
	if len(data) < 8*n {
		return nil, fmt.Errorf("datagram has %d bytes, need %d for %d doubles", len(data), 8*n, n)
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Float64frombits(order.Uint64(data[8*i:]))
	}
	return values, nil
}

type Listener struct {
	conn   net.PacketConn
	count  int
	order  binary.ByteOrder
	logger *zap.Logger
}

func New(conn net.PacketConn, count int, order binary.ByteOrder, logger *zap.Logger) *Listener {
	return &Listener{conn: conn, count: count, order: order, logger: logger}
}

// Run calls fn for every datagram that decodes until ctx is cancelled. Short
// datagrams are logged and skipped.
func (l *Listener) Run(ctx context.Context, fn func(values []float64, from net.Addr)) error {
	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := l.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return err
		}
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("[listener] reading datagram: %w", err)
		}

		values, err := Decode(buf[:n], l.count, l.order)
		if err != nil {
			l.logger.Warn("[listener] dropping datagram", zap.Error(err), zap.Stringer("from", from))
			continue
		}
		fn(values, from)
	}
}
