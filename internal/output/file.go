package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/processing"
)

const (
	fileTimeLayout = "2006-01-02 15_04_05"
	timeHeader     = "time (excel-format)"
)

// FileName builds "<prefix> - <date time>.csv", or just the date when the
// prefix is empty.
func FileName(prefix string, at time.Time) string {
	name := at.Format(fileTimeLayout) + ".csv"
	if prefix == "" {
		return name
	}
	if strings.HasSuffix(prefix, " - ") {
		return prefix + name
	}
	return prefix + " - " + name
}

// FileWriter appends samples as CSV rows.
type FileWriter struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	logger *zap.Logger
}

// NewFileWriter creates the output file in dir and writes the header line.
func NewFileWriter(dir, prefix string, columns []string, at time.Time, logger *zap.Logger) (*FileWriter, error) {
	path := filepath.Join(dir, FileName(prefix, at))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening output file %s: %w", path, err)
	}

	w := &FileWriter{
		path:   path,
		file:   file,
		writer: bufio.NewWriter(file),
		logger: logger,
	}
	header := timeHeader
	for _, col := range columns {
		header += ", " + col
	}
	w.writer.WriteString(header + "\n")
	if err := w.writer.Flush(); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing header to %s: %w", path, err)
	}

	logger.Info("[file] output file created", zap.String("outputFile", path), zap.Int("columns", len(columns)))
	return w, nil
}

func (w *FileWriter) Path() string {
	return w.path
}

// Write appends one row per sample and flushes.
func (w *FileWriter) Write(samples []processing.Sample) error {
	for _, s := range samples {
		w.writer.WriteString(FormatRow(s))
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("writing to %s: %w", w.path, err)
	}
	return nil
}

func (w *FileWriter) Close() error {
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// FormatRow renders "time, v1, v2, ...\n".
func FormatRow(s processing.Sample) string {
	var sb strings.Builder
	sb.WriteString(formatFloat(s.Time))
	for _, v := range s.Values {
		sb.WriteString(", ")
		sb.WriteString(formatFloat(v))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
