package rserial

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

var errFakeClosed = errors.New("fake port closed")

// fakePort serves a fixed byte stream, then behaves like a read timeout
// (0, nil) until closed.
type fakePort struct {
	mu      sync.Mutex
	in      *bytes.Reader
	written bytes.Buffer
	closed  bool
}

func newFakePort(data ...[]byte) *fakePort {
	return &fakePort{in: bytes.NewReader(bytes.Join(data, nil))}
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errFakeClosed
	}
	if f.in.Len() == 0 {
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
		f.mu.Lock()
		return 0, nil
	}
	// hand out at most 7 bytes at a time to exercise partial reads
	if len(p) > 7 {
		p = p[:7]
	}
	return f.in.Read(p)
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errFakeClosed
	}
	return f.written.Write(p)
}

func (f *fakePort) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePort) SetMode(mode *serial.Mode) error { return nil }
func (f *fakePort) Drain() error                    { return nil }
func (f *fakePort) ResetInputBuffer() error         { return nil }
func (f *fakePort) ResetOutputBuffer() error        { return nil }
func (f *fakePort) SetDTR(dtr bool) error           { return nil }
func (f *fakePort) SetRTS(rts bool) error           { return nil }
func (f *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}
func (f *fakePort) SetReadTimeout(t time.Duration) error { return nil }
func (f *fakePort) Break(time.Duration) error            { return nil }
