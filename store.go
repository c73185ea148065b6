package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// -------------------- Trial store --------------------

var trialHeader = []string{"index", "timestamp", "parameters"}

// TrialStore is the append-only CSV log of accepted trials. Single writer;
// rows are flushed one at a time so concurrent readers only ever see fully
// written rows.
type TrialStore struct {
	path string
	log  *slog.Logger
}

func NewTrialStore(path string, log *slog.Logger) *TrialStore {
	if log == nil {
		log = slog.Default()
	}
	return &TrialStore{path: path, log: log}
}

// tried reconstructs the set of canonical assignment forms already present
// in the log. An absent log means a fresh run. Malformed rows are logged
// and skipped, never fatal.
func (s *TrialStore) tried() (map[string]struct{}, error) {
	set := map[string]struct{}{}
	rows, err := s.readRows()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if len(row) < 3 || row[2] == "" {
			s.log.Warn("store: row without parameters skipped", "row", row)
			continue
		}
		set[row[2]] = struct{}{}
	}
	return set, nil
}

// lastIndex returns the highest trial index in the log, or -1 when the log
// is absent or holds no parseable rows.
func (s *TrialStore) lastIndex() (int, error) {
	rows, err := s.readRows()
	if err != nil {
		return -1, err
	}
	last := -1
	for _, row := range rows {
		if len(row) < 1 {
			continue
		}
		idx, err := strconv.Atoi(row[0])
		if err != nil {
			s.log.Warn("store: row with bad index skipped", "row", row)
			continue
		}
		if idx > last {
			last = idx
		}
	}
	return last, nil
}

// readRows returns every data row (header excluded) of the log, or nothing
// when the file does not exist yet.
func (s *TrialStore) readRows() ([][]string, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[1:], nil
}

// append writes one accepted trial: index, a fresh ISO-8601 timestamp, and
// the canonical assignment. The header is created with the file. Append is
// the only mutation the store performs.
func (s *TrialStore) append(index int, a Assignment) error {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		if err := s.writeHeader(); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open %s for append: %w", s.path, err)
	}
	w := csv.NewWriter(f)
	row := []string{
		strconv.Itoa(index),
		time.Now().Format(time.RFC3339),
		a.canonical(),
	}
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return fmt.Errorf("store: append row %d: %w", index, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("store: flush row %d: %w", index, err)
	}
	return f.Close()
}

func (s *TrialStore) writeHeader() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: create %s: %w", s.path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(trialHeader); err != nil {
		_ = f.Close()
		return fmt.Errorf("store: write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("store: flush header: %w", err)
	}
	return f.Close()
}
