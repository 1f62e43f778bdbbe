package storage_test

import (
	"testing"

	"ledgerSync/internal/model"
	"ledgerSync/internal/storage"
	"ledgerSync/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, storagetest.Backend{
		New: func(t *testing.T) storage.Store { return storage.NewMemory() },
		CorruptCursor: func(t *testing.T, s storage.Store, key model.SourceKey) {
			s.(*storage.Memory).SetRawCursorBlock(key, "NaN")
		},
	})
}
