package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ledgerSync/internal/model"
)

// SkipJournal appends skipped-entry records to a JSONL file.
type SkipJournal struct {
	path string
	mu   sync.Mutex
}

func NewSkipJournal(path string) *SkipJournal {
	return &SkipJournal{path: path}
}

// RecordSkip appends one record.
func (j *SkipJournal) RecordSkip(ctx context.Context, record model.DecodeError) error {
	return j.Append([]model.DecodeError{record})
}

// Append writes a batch of records as JSON lines.
func (j *SkipJournal) Append(records []model.DecodeError) error {
	if len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal skip record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write skip record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}
