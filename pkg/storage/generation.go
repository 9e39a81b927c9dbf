package storage

import (
	"context"
	"fmt"
	"time"
)

// Generation is an audio job of a song.
type Generation struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	SongID string `gorm:"index;not null"`

	ExternalID string `gorm:"index;not null;default:''"`
	Status     string `gorm:"not null;default:''"`
	Audio      string `gorm:"not null;default:''"`
	Image      string `gorm:"not null;default:''"`
	ImageLarge string `gorm:"not null;default:''"`
	Video      string `gorm:"not null;default:''"`
	Error      string `gorm:"not null;default:''"`
}

func (s *Store) ListGenerations(ctx context.Context, page, size int, orderBy string, filter ...Filter) ([]*Generation, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size
	vs := []*Generation{}

	q := s.db.WithContext(ctx).Offset(offset).Limit(size)
	for _, f := range filter {
		q = q.Where(f.Query, f.Args...)
	}
	// Order by
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list Generations: %w", err)
	}
	return vs, nil
}
