// Package runlog records each acquisition run in a ClickHouse table. When the
// run log is disabled or the server cannot be reached, a Recorder silently
// does nothing.
package runlog

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/config"
)

const (
	tableName  = "runs"
	timeLayout = "2006-01-02 15:04:05.000000"
)

const createTable = `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
	id String,
	hostname String,
	version String,
	go_version String,
	mode String,
	target String,
	boards Array(String),
	samples Int64,
	start DateTime64(6),
	end DateTime64(6)
) ENGINE = ReplacingMergeTree ORDER BY id`

// Run describes one acquisition from PREPARE-FOR-SAMPLING to SHUTDOWN.
type Run struct {
	ID       string
	Hostname string
	Version  string
	Mode     string
	Target   string
	Boards   []string
	Samples  int64
	Start    time.Time
	End      time.Time
}

func NewRun(version, mode, target string, boards []string) *Run {
	hostname, _ := os.Hostname()
	now := time.Now()
	return &Run{
		ID:       ulid.Make().String(),
		Hostname: hostname,
		Version:  version,
		Mode:     mode,
		Target:   target,
		Boards:   boards,
		Start:    now,
		End:      now,
	}
}

type inserter interface {
	Exec(ctx context.Context, query string, args ...any) error
	AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error
	Close() error
}

type Recorder struct {
	conn   inserter
	logger *zap.Logger
}

// Disabled returns a Recorder that records nothing.
func Disabled(logger *zap.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Connect opens the run log described by cfg. Failures are logged and yield a
// disabled Recorder; acquisition never depends on the run log.
func Connect(ctx context.Context, cfg config.RunLogConfig, version string, logger *zap.Logger) *Recorder {
	if !cfg.Enabled {
		return Disabled(logger)
	}

	opt := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "bridgelog", Version: version},
			},
		},
		DialTimeout: 2 * time.Second,
	}
	conn, err := clickhouse.Open(opt)
	if err != nil {
		logger.Warn("[runlog] could not open run log, continuing without it", zap.String("addr", cfg.Addr), zap.Error(err))
		return Disabled(logger)
	}
	if err := conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			logger.Warn("[runlog] clickhouse exception", zap.Int32("code", exception.Code), zap.String("message", exception.Message))
		}
		logger.Warn("[runlog] run log unreachable, continuing without it", zap.String("addr", cfg.Addr), zap.Error(err))
		conn.Close()
		return Disabled(logger)
	}

	r, err := newRecorder(ctx, conn, logger)
	if err != nil {
		logger.Warn("[runlog] could not prepare run table, continuing without it", zap.Error(err))
		conn.Close()
		return Disabled(logger)
	}
	logger.Info("[runlog] recording runs", zap.String("addr", cfg.Addr), zap.String("database", cfg.Database))
	return r
}

func newRecorder(ctx context.Context, conn inserter, logger *zap.Logger) (*Recorder, error) {
	if err := conn.Exec(ctx, createTable); err != nil {
		return nil, fmt.Errorf("creating table %s: %w", tableName, err)
	}
	return &Recorder{conn: conn, logger: logger}, nil
}

func (r *Recorder) Enabled() bool {
	return r != nil && r.conn != nil
}

// Start records the run as begun.
func (r *Recorder) Start(ctx context.Context, run *Run) {
	r.insert(ctx, run)
}

// Finish stamps the end time and sample count and records the run again; the
// table keeps the latest row per id.
func (r *Recorder) Finish(ctx context.Context, run *Run, samples int64) {
	if run == nil {
		return
	}
	run.End = time.Now()
	run.Samples = samples
	r.insert(ctx, run)
}

func (r *Recorder) insert(ctx context.Context, run *Run) {
	if !r.Enabled() || run == nil {
		return
	}
	const nowait = false
	err := r.conn.AsyncInsert(ctx, `INSERT INTO `+tableName+` VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		run.ID, run.Hostname, run.Version, runtime.Version(), run.Mode, run.Target,
		run.Boards, run.Samples, run.Start.Format(timeLayout), run.End.Format(timeLayout),
	)
	if err != nil {
		r.logger.Warn("[runlog] error inserting run", zap.String("runID", run.ID), zap.Error(err))
		return
	}
	r.logger.Debug("[runlog] run recorded",
		zap.String("runID", run.ID),
		zap.String("boards", strings.Join(run.Boards, ",")),
		zap.Int64("samples", run.Samples),
	)
}

func (r *Recorder) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.conn.Close()
}
