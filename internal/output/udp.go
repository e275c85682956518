package output

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/config"
	"sleepywoodpecker/bridgelog/internal/processing"
)

// ByteOrder maps "little"/"big" to a binary.ByteOrder.
func ByteOrder(name string) (binary.ByteOrder, error) {
	switch strings.ToLower(name) {
	case "", "little":
		return binary.LittleEndian, nil
	case "big":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q", name)
}

// EncodeDoubles packs values as 8 byte IEEE 754 doubles.
func EncodeDoubles(values []float64, order binary.ByteOrder) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		order.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

// InfluxLine formats a sample as influx line protocol. NaN values are left
// out; ok is false when nothing is left to send.
func InfluxLine(measurement string, s processing.Sample) (line string, ok bool) {
	var fields []string
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		fields = append(fields, fmt.Sprintf("ch%d=%s", i, strconv.FormatFloat(v, 'f', -1, 64)))
	}
	if len(fields) == 0 {
		return "", false
	}
	ts := processing.FromExcelTime(s.Time).UnixNano()
	return fmt.Sprintf("%s %s %d", measurement, strings.Join(fields, ","), ts), true
}

type UDPOptions struct {
	Format           string
	Order            binary.ByteOrder
	IncludeTimestamp bool
	Measurement      string
}

// UDPWriter sends one datagram per sample.
type UDPWriter struct {
	conn   io.WriteCloser
	opts   UDPOptions
	logger *zap.Logger
}

// DialUDP connects a UDP socket to addr.
func DialUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return conn, nil
}

func NewUDPWriter(conn io.WriteCloser, opts UDPOptions, logger *zap.Logger) *UDPWriter {
	if opts.Order == nil {
		opts.Order = binary.LittleEndian
	}
	if opts.Format == "" {
		opts.Format = config.FormatBinary
	}
	return &UDPWriter{conn: conn, opts: opts, logger: logger}
}

// Payload returns the datagram for one sample, or nil if there is nothing to send.
func (w *UDPWriter) Payload(s processing.Sample) []byte {
	if w.opts.Format == config.FormatInflux {
		line, ok := InfluxLine(w.opts.Measurement, s)
		if !ok {
			return nil
		}
		return []byte(line)
	}
	if w.opts.IncludeTimestamp {
		var buf bytes.Buffer
		buf.Write(EncodeDoubles([]float64{s.Time}, w.opts.Order))
		buf.Write(EncodeDoubles(s.Values, w.opts.Order))
		return buf.Bytes()
	}
	return EncodeDoubles(s.Values, w.opts.Order)
}

// Write sends every sample; a failed datagram does not stop the rest.
func (w *UDPWriter) Write(samples []processing.Sample) error {
	var errs []error
	for _, s := range samples {
		payload := w.Payload(s)
		if payload == nil {
			continue
		}
		if _, err := w.conn.Write(payload); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d datagrams failed: %w", len(errs), len(samples), errors.Join(errs...))
	}
	return nil
}

func (w *UDPWriter) Close() error {
	return w.conn.Close()
}
