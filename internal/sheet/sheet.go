package sheet

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
)

type Appender interface {
	Append(row Row) error
}

// CSVSheet appends rows to a CSV file, writing the header when the file is
// new or empty.
type CSVSheet struct {
	path   string
	header []string
	mu     sync.Mutex
}

func NewCSVSheet(path string, channels []string) *CSVSheet {
	return &CSVSheet{
		path:   path,
		header: append([]string{"timestamp"}, channels...),
	}
}

func (s *CSVSheet) Append(row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return fmt.Errorf("open sheet: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat sheet: %w", err)
	}

	w := csv.NewWriter(f)

	if info.Size() == 0 {
		if err := w.Write(s.header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	if err := w.Write(row.Cells()); err != nil {
		return fmt.Errorf("write row: %w", err)
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	return nil
}

// MemorySheet keeps rows in memory.
type MemorySheet struct {
	mu   sync.Mutex
	rows []Row
}

func (m *MemorySheet) Append(row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = append(m.rows, row)

	return nil
}

func (m *MemorySheet) Rows() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Row(nil), m.rows...)
}
