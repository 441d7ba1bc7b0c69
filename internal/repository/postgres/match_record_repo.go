package postgres

import (
	"context"
	"errors"

	"github.com/dom/code-arena/internal/domain"
	"gorm.io/gorm"
)

type matchRecordRepository struct {
	db *gorm.DB
}

func NewMatchRecordRepository(db *gorm.DB) *matchRecordRepository {
	return &matchRecordRepository{db: db}
}

func (r *matchRecordRepository) Create(ctx context.Context, record *domain.MatchRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *matchRecordRepository) GetByRoomID(ctx context.Context, roomID string) (*domain.MatchRecord, error) {
	var record domain.MatchRecord
	err := r.db.WithContext(ctx).First(&record, "room_id = ?", roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
