package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Song struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	RunID       string `gorm:"index;not null;default:''"`
	Instruction string `gorm:"type:text;not null"`
	Station     string `gorm:"index;not null;default:''"`
	Artist      string `gorm:"not null;default:''"`
	Model       string `gorm:"index;not null;default:''"`

	Title         string `gorm:"not null;default:''"`
	Lyrics        string `gorm:"type:text;not null"`
	Style         string `gorm:"not null;default:''"`
	NegativeStyle string `gorm:"not null;default:''"`
	Description   string `gorm:"type:text;not null"`

	GenerationID string `gorm:"index;not null;default:''"`
	Status       string `gorm:"index;not null;default:''"`
	Stage        string `gorm:"not null;default:''"`
	Error        string `gorm:"type:text;not null"`

	Generations []*Generation `gorm:"foreignKey:SongID"`
}

func (s *Store) GetSong(ctx context.Context, id string) (*Song, error) {
	q := s.db.WithContext(ctx).Preload("Generations")

	var v Song
	if err := q.First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get Song %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) DeleteSong(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Generation{}, "song_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&Song{ID: id}, "id = ?", id).Error
	})
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("storage: failed to delete Song %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListSongs(ctx context.Context, page, size int, orderBy string, filter ...Filter) ([]*Song, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size
	vs := []*Song{}

	q := s.db.WithContext(ctx).Preload("Generations")
	q = q.Offset(offset).Limit(size)
	for _, f := range filter {
		q = q.Where(f.Query, f.Args...)
	}
	// Order by
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list Songs: %w", err)
	}
	return vs, nil
}
