package rserial

import (
	"sync"
	"time"
)

// ReadingStore keeps the most recent packet from a board. The decoder writes
// it, the sampler reads it through the channels at its own pace.
type ReadingStore struct {
	latest     Packet
	receivedAt time.Time
	valid      bool
	mu         sync.Mutex
}

func (s *ReadingStore) Update(p Packet, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = p
	s.receivedAt = at
	s.valid = true
}

// Latest returns the last packet and when it arrived; ok is false until the
// first packet was stored.
func (s *ReadingStore) Latest() (p Packet, receivedAt time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.latest, s.receivedAt, s.valid
}
