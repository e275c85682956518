// Package session drives one acquisition from the first prompt to shutdown:
// INIT -> WAITING -> PREPARE-FOR-SAMPLING -> SAMPLING -> SHUTDOWN, or ERROR
// when something fails on the way.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/bridge"
	"sleepywoodpecker/bridgelog/internal/config"
	"sleepywoodpecker/bridgelog/internal/devices"
	"sleepywoodpecker/bridgelog/internal/display"
	"sleepywoodpecker/bridgelog/internal/output"
	"sleepywoodpecker/bridgelog/internal/processing"
	"sleepywoodpecker/bridgelog/internal/runlog"
)

var ErrNoBoards = errors.New("no boards are connected")

const autoStartPoll = 50 * time.Millisecond

// OutputFactory opens the writer for the configured output mode. target
// describes where samples go, for logs and the run log.
type OutputFactory func(cfg *config.Config, columns []string, at time.Time, logger *zap.Logger) (w output.Writer, target string, err error)

type Options struct {
	Version string
	In      io.Reader
	Out     io.Writer
	// PromptPrefix and PromptUDP ask for the values not given on the command line.
	PromptPrefix bool
	PromptUDP    bool
	// AutoStart starts sampling as soon as one board is registered instead of
	// waiting for ENTER.
	AutoStart bool
	Managers  []devices.Manager
	Recorder  *runlog.Recorder
	Output    OutputFactory
}

type Session struct {
	cfg      *config.Config
	opts     Options
	logger   *zap.Logger
	out      io.Writer
	lines    *lineReader
	registry *devices.Registry
	recorder *runlog.Recorder

	mu    sync.Mutex
	state State

	results *processing.ResultBuffer
	display *processing.DisplayBuffer
	sampler *processing.Sampler
	loop    *output.Loop
	writer  output.Writer
	run     *runlog.Run

	stopSampler context.CancelFunc
	stopLoop    context.CancelFunc
	samplerDone chan error
	loopDone    chan error
}

func New(cfg *config.Config, opts Options, logger *zap.Logger) *Session {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Output == nil {
		opts.Output = DefaultOutput
	}
	s := &Session{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		out:      opts.Out,
		recorder: opts.Recorder,
		state:    Init,
	}
	if opts.In != nil {
		s.lines = newLineReader(opts.In)
	}
	if s.recorder == nil {
		s.recorder = runlog.Disabled(logger)
	}
	s.registry = devices.NewRegistry(logger, devices.RegistryOptions{
		DictionaryPath:   cfg.Devices.Dictionary,
		DefaultSeparator: cfg.Devices.Separator,
		BoardOptions:     devices.ConfigOptions(cfg),
		Notify:           s.announce,
	})
	for _, m := range opts.Managers {
		s.registry.Watch(m)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.logger.Info("[session] state change", zap.Stringer("from", prev), zap.Stringer("to", st))
}

func (s *Session) Registry() *devices.Registry {
	return s.registry
}

// announce prints attach and detach events while the terminal is ours.
func (s *Session) announce(e devices.Event) {
	if s.State() >= Sampling {
		return
	}
	fmt.Fprintf(s.out, "Device '%s' %s, Serial Number: %d\n", e.DeviceName, e.Kind, e.SerialNumber)
}

// Run walks through every state. It returns nil after a normal shutdown,
// whether the display was closed or ctx was cancelled.
func (s *Session) Run(ctx context.Context) error {
	if err := s.initialize(ctx); err != nil {
		if ctx.Err() != nil {
			s.shutdown()
			return nil
		}
		return s.fail(err)
	}

	s.setState(Waiting)
	if err := s.wait(ctx); err != nil {
		if ctx.Err() != nil {
			s.shutdown()
			return nil
		}
		return s.fail(err)
	}

	s.setState(PrepareForSampling)
	if err := s.prepare(ctx); err != nil {
		return s.fail(err)
	}

	s.setState(Sampling)
	displayErr := s.sample(ctx)

	s.shutdown()
	if displayErr != nil {
		s.setState(Error)
		return fmt.Errorf("display: %w", displayErr)
	}
	return nil
}

func (s *Session) fail(err error) error {
	s.shutdown()
	s.setState(Error)
	s.logger.Error("[session] session failed", zap.Error(err))
	return err
}

func (s *Session) initialize(ctx context.Context) error {
	if s.lines == nil {
		return nil
	}
	switch s.cfg.Output.Mode {
	case config.ModeFile:
		if s.opts.PromptPrefix {
			return s.promptPrefix(ctx)
		}
	case config.ModeUDP:
		if s.opts.PromptUDP {
			return s.promptUDP(ctx)
		}
	}
	return nil
}

func (s *Session) wait(ctx context.Context) error {
	fmt.Fprintf(s.out, "Ready. Waiting for %s devices to be connected.\n", bridge.DeviceName)
	if s.opts.AutoStart {
		fmt.Fprintln(s.out, "Sampling starts as soon as a board is connected.")
	} else {
		fmt.Fprintln(s.out, "Press ENTER to start sampling.")
	}
	fmt.Fprintln(s.out)

	for _, m := range s.opts.Managers {
		if err := m.Open(ctx); err != nil {
			return fmt.Errorf("opening device manager: %w", err)
		}
	}

	if s.opts.AutoStart || s.lines == nil {
		return s.waitForBoard(ctx)
	}

	for {
		if _, err := s.lines.ReadLine(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return s.waitForBoard(ctx)
			}
			return err
		}
		if s.registry.Len() > 0 {
			return nil
		}
		fmt.Fprintln(s.out, "Cannot start sampling: No boards are connected!")
		fmt.Fprintln(s.out, "Connect at least one board and try again.")
	}
}

func (s *Session) waitForBoard(ctx context.Context) error {
	ticker := time.NewTicker(autoStartPoll)
	defer ticker.Stop()
	for s.registry.Len() == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Session) prepare(ctx context.Context) error {
	boards := s.registry.Boards()
	if len(boards) == 0 {
		return ErrNoBoards
	}

	interval := s.cfg.Sampling.Interval.Duration()
	s.results = processing.NewResultBuffer()
	s.display = processing.NewDisplayBuffer(s.cfg.DisplayCapacity())
	s.sampler = processing.NewSampler(interval, boards, s.results, s.display, s.logger)
	s.sampler.Follow(s.registry.Get)

	columns := s.sampler.Columns()
	writer, target, err := s.opts.Output(s.cfg, columns, time.Now(), s.logger)
	if err != nil {
		return fmt.Errorf("opening %s output: %w", s.cfg.Output.Mode, err)
	}
	s.writer = writer
	s.loop = output.NewLoop(s.cfg.Output.Mode, outputInterval(s.cfg), s.results, writer, s.logger)

	names := make([]string, 0, len(boards))
	for _, b := range boards {
		names = append(names, b.Name())
		fmt.Fprintf(s.out, "Sampling board %s (serial %d)\n", b.Name(), b.Serial())
	}
	fmt.Fprintf(s.out, "Writing to %s\n", target)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	s.stopLoop = stopLoop
	s.loopDone = make(chan error, 1)
	go func() { s.loopDone <- s.loop.Run(loopCtx) }()

	samplerCtx, stopSampler := context.WithCancel(ctx)
	s.stopSampler = stopSampler
	s.samplerDone = make(chan error, 1)
	go func() { s.samplerDone <- s.sampler.Run(samplerCtx) }()

	s.run = runlog.NewRun(s.opts.Version, s.cfg.Output.Mode, target, names)
	s.recorder.Start(ctx, s.run)

	s.logger.Info("[session] sampling",
		zap.Int("boards", len(boards)),
		zap.Int("columns", len(columns)),
		zap.String("target", target),
		zap.String("runID", s.run.ID),
	)
	return nil
}

func outputInterval(cfg *config.Config) time.Duration {
	switch cfg.Output.Mode {
	case config.ModeUDP:
		return cfg.Output.UDP.Interval.Duration()
	case config.ModeZMQ:
		return cfg.Output.ZMQ.Interval.Duration()
	}
	return cfg.Output.File.Interval.Duration()
}

// sample runs the display in the foreground until it is closed or ctx ends.
func (s *Session) sample(ctx context.Context) error {
	panels := display.PanelsFor(s.sampler.Boards())
	switch s.cfg.Display.Mode {
	case config.DisplayTUI:
		model := display.NewModel(s.display, panels, display.Options{
			Interval:         s.cfg.Display.Interval.Duration(),
			SamplingInterval: s.cfg.Sampling.Interval.Duration(),
			SecondsBefore:    s.cfg.Display.SecondsBefore,
			SecondsAfter:     s.cfg.Display.SecondsAfter,
			PlotDir:          s.cfg.Display.PlotDir,
			Status:           s.status,
		})
		return display.RunTUI(ctx, model)
	case config.DisplayTable:
		return display.NewTable(s.display, panels, s.cfg.Display.TableInterval.Duration(), s.out).Run(ctx)
	}
	<-ctx.Done()
	return nil
}

func (s *Session) status() string {
	return fmt.Sprintf("samples %d  queued %d  written %d", s.sampler.Count(), s.results.Len(), s.loop.Written())
}

// shutdown stops whatever was started, in reverse order. Safe to call from
// any state.
func (s *Session) shutdown() {
	if s.State() != Error {
		s.setState(Shutdown)
	}

	if s.stopSampler != nil {
		s.stopSampler()
		<-s.samplerDone
		s.stopSampler = nil
	}
	if s.stopLoop != nil {
		s.stopLoop()
		<-s.loopDone
		s.stopLoop = nil
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			s.logger.Warn("[session] error closing output", zap.Error(err))
		}
		s.writer = nil
	}

	if s.run != nil {
		s.recorder.Finish(context.Background(), s.run, s.sampler.Count())
		fmt.Fprintf(s.out, "Recorded %d samples.\n", s.sampler.Count())
		s.run = nil
	}

	for _, m := range s.opts.Managers {
		if err := m.Close(); err != nil {
			s.logger.Warn("[session] error closing device manager", zap.Error(err))
		}
	}
	s.registry.Close()
	if err := s.recorder.Close(); err != nil {
		s.logger.Warn("[session] error closing run log", zap.Error(err))
	}
}

// DefaultOutput opens the file and udp outputs.
func DefaultOutput(cfg *config.Config, columns []string, at time.Time, logger *zap.Logger) (output.Writer, string, error) {
	switch cfg.Output.Mode {
	case config.ModeFile:
		w, err := output.NewFileWriter(cfg.Output.File.Dir, cfg.Output.File.Prefix, columns, at, logger)
		if err != nil {
			return nil, "", err
		}
		return w, w.Path(), nil
	case config.ModeUDP:
		order, err := output.ByteOrder(cfg.Output.UDP.ByteOrder)
		if err != nil {
			return nil, "", err
		}
		addr := cfg.Output.UDP.Addr()
		conn, err := output.DialUDP(addr)
		if err != nil {
			return nil, "", err
		}
		w := output.NewUDPWriter(conn, output.UDPOptions{
			Format:           cfg.Output.UDP.Format,
			Order:            order,
			IncludeTimestamp: cfg.Output.UDP.IncludeTimestamp,
			Measurement:      cfg.Output.UDP.Measurement,
		}, logger)
		return w, "udp://" + addr, nil
	}
	return nil, "", fmt.Errorf("output mode %q is not available", cfg.Output.Mode)
}

// VirtualSerials returns the serial numbers of the simulated boards to attach.
func VirtualSerials(cfg *config.Config) []int {
	if !cfg.Devices.Virtual {
		return nil
	}
	return []int{cfg.Devices.VirtualSerial}
}
