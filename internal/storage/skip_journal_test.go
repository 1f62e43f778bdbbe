package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"ledgerSync/internal/model"
)

func TestSkipJournalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "skips.jsonl")
	journal := NewSkipJournal(path)

	records := []model.DecodeError{
		{SourceType: "erc20", BlockNumber: 1, LogIndex: 0, Stage: model.StageDecode, Error: "unknown event"},
		{SourceType: "erc20", BlockNumber: 2, LogIndex: 4, Stage: model.StageStore, Error: "disk full"},
	}
	for _, record := range records {
		if err := journal.RecordSkip(context.Background(), record); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var got []model.DecodeError
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record model.DecodeError
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, record)
	}
	if len(got) != 2 || got[1].Stage != model.StageStore || got[0].Error != "unknown event" {
		t.Fatalf("journal mismatch: %+v", got)
	}
}
