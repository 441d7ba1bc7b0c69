// Package memory provides map-backed repositories used when no database
// is configured, and by the test suite.
package memory

import (
	"context"
	"sync"

	"github.com/dom/code-arena/internal/domain"
	"github.com/dom/code-arena/internal/repository"
)

type matchRecordRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.MatchRecord
}

func NewMatchRecordRepository() *matchRecordRepository {
	return &matchRecordRepository{
		records: make(map[string]*domain.MatchRecord),
	}
}

func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		MatchRecord: NewMatchRecordRepository(),
	}
}

func (r *matchRecordRepository) Create(_ context.Context, record *domain.MatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *record
	r.records[record.RoomID] = &copied
	return nil
}

func (r *matchRecordRepository) GetByRoomID(_ context.Context, roomID string) (*domain.MatchRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[roomID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}
