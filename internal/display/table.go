package display

import (
	"context"
	"fmt"
	"io"
	"time"

	"sleepywoodpecker/bridgelog/internal/processing"
)

// Table prints the window stats as plain text at a fixed interval, for
// terminals where the dashboard is not wanted.
type Table struct {
	buffer   *processing.DisplayBuffer
	panels   []Panel
	interval time.Duration
	out      io.Writer
}

func NewTable(buffer *processing.DisplayBuffer, panels []Panel, interval time.Duration, out io.Writer) *Table {
	return &Table{buffer: buffer, panels: panels, interval: interval, out: out}
}

func (t *Table) Render() string {
	return RenderTable(t.panels, t.buffer.Columns(columnCount(t.panels)))
}

// Run prints until ctx is cancelled.
func (t *Table) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case at := <-ticker.C:
			if _, err := fmt.Fprintf(t.out, "%s\n%s\n", at.Format(time.TimeOnly), t.Render()); err != nil {
				return err
			}
		}
	}
}
