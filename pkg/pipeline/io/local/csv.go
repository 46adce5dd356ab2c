package local

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ReadColumnCSV reads a CSV stream and returns the non-blank values of the named column.
// The header match is case-insensitive.
func ReadColumnCSV(r io.Reader, column string) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")), column) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("missing required column %q", column)
	}

	var values []string
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idx >= len(rec) {
			return nil, fmt.Errorf("line %d: has %d columns, want at least %d", line, len(rec), idx+1)
		}
		if v := strings.TrimSpace(rec[idx]); v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}

// FileSource loads one column of a CSV file ("-" reads stdin).
type FileSource struct {
	Path   string
	Column string
}

func (s FileSource) Load(_ context.Context) ([]string, error) {
	if s.Path == "-" {
		return ReadColumnCSV(os.Stdin, s.Column)
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadColumnCSV(f, s.Column)
}

// CSVSink writes rows under a fixed header, flushing after every row so partial output
// survives an aborted run.
type CSVSink struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	width  int
}

// NewCSVSink writes header to w. If w is an io.Closer, Close closes it.
func NewCSVSink(w io.Writer, header []string) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(w), width: len(header)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	if err := s.writeRow(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return s, nil
}

// CreateCSVSink creates (or truncates) path and writes header. "-" writes to stdout.
func CreateCSVSink(path string, header []string) (*CSVSink, error) {
	if path == "-" {
		return NewCSVSink(os.Stdout, header)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s, err := NewCSVSink(f, header)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *CSVSink) Write(row []string) error {
	if len(row) != s.width {
		return fmt.Errorf("row has %d fields, header has %d", len(row), s.width)
	}
	return s.writeRow(row)
}

func (s *CSVSink) writeRow(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil && s.closer != io.Closer(os.Stdout) {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}
