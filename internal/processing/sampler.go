package processing

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/bridge"
)

// Sampler reads every channel of a fixed list of boards at a fixed interval and
// hands each row to the result and display buffers.
type Sampler struct {
	interval time.Duration
	boards   []*bridge.Board
	results  *ResultBuffer
	display  *DisplayBuffer
	logger   *zap.Logger
	now      func() time.Time
	lookup   func(serial int) (*bridge.Board, bool)

	count   atomic.Int64
	failing []bool
}

// NewSampler freezes the column layout: boards attached later are not sampled,
// and a board that goes away keeps its columns, filled with NaN.
func NewSampler(interval time.Duration, boards []*bridge.Board, results *ResultBuffer, display *DisplayBuffer, logger *zap.Logger) *Sampler {
	frozen := make([]*bridge.Board, len(boards))
	copy(frozen, boards)
	return &Sampler{
		interval: interval,
		boards:   frozen,
		results:  results,
		display:  display,
		logger:   logger,
		now:      time.Now,
		failing:  make([]bool, len(frozen)),
	}
}

// Follow makes every tick resolve the frozen serial numbers through lookup, so
// a board that re-attaches under the same serial is read again. A serial that
// lookup does not know yields NaN.
func (s *Sampler) Follow(lookup func(serial int) (*bridge.Board, bool)) {
	s.lookup = lookup
}

func (s *Sampler) Boards() []*bridge.Board {
	return s.boards
}

// Columns returns the value column headers in sample order.
func (s *Sampler) Columns() []string {
	cols := make([]string, 0, len(s.boards)*bridge.ChannelCount)
	for _, b := range s.boards {
		cols = append(cols, b.ColumnNames()...)
	}
	return cols
}

// Count is the number of samples taken so far.
func (s *Sampler) Count() int64 {
	return s.count.Load()
}

// SampleOnce takes one sample and stores it in both buffers.
func (s *Sampler) SampleOnce() Sample {
	sample := Sample{
		Time:   ExcelTime(s.now()),
		Values: make([]float64, 0, len(s.boards)*bridge.ChannelCount),
	}

	for idx, b := range s.boards {
		sample.Values = append(sample.Values, s.readBoard(idx, b)...)
	}

	if s.display != nil {
		s.display.Push(sample)
	}
	if s.results != nil {
		s.results.PushFront(sample)
	}
	s.count.Add(1)
	return sample
}

func (s *Sampler) readBoard(idx int, b *bridge.Board) []float64 {
	if s.lookup != nil {
		current, ok := s.lookup(b.Serial())
		if !ok {
			s.markFailing(idx, b, nil)
			return nanRow()
		}
		b = current
	}
	if !b.Ready() {
		s.markFailing(idx, b, nil)
		return nanRow()
	}

	values, err := b.Read()
	if err != nil {
		s.markFailing(idx, b, err)
		return values
	}
	if s.failing[idx] {
		s.failing[idx] = false
		s.logger.Info("[sampler] board readings recovered", zap.Int("serialNumber", b.Serial()))
	}
	return values
}

// markFailing logs the first failure of a streak at warn level, the rest at debug.
func (s *Sampler) markFailing(idx int, b *bridge.Board, err error) {
	msg := "[sampler] error reading board"
	if err == nil {
		msg = "[sampler] board not attached, recording NaN"
	}
	if !s.failing[idx] {
		s.failing[idx] = true
		s.logger.Warn(msg, zap.Int("serialNumber", b.Serial()), zap.Error(err))
		return
	}
	s.logger.Debug(msg, zap.Int("serialNumber", b.Serial()), zap.Error(err))
}

func nanRow() []float64 {
	row := make([]float64, bridge.ChannelCount)
	for i := range row {
		row[i] = math.NaN()
	}
	return row
}

// Run samples on every tick until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("[sampler] sampling started",
		zap.Duration("interval", s.interval),
		zap.Int("boards", len(s.boards)),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[sampler] received shutdown signal", zap.Int64("samples", s.Count()))
			return nil
		case <-ticker.C:
			s.SampleOnce()
		}
	}
}
