package repository

import (
	"context"

	"github.com/dom/code-arena/internal/domain"
)

// MatchRecordRepository stores finished-match outcomes for result queries
// that arrive after the in-memory room has been disposed.
type MatchRecordRepository interface {
	Create(ctx context.Context, record *domain.MatchRecord) error
	GetByRoomID(ctx context.Context, roomID string) (*domain.MatchRecord, error)
}

type Repositories struct {
	MatchRecord MatchRecordRepository
}
