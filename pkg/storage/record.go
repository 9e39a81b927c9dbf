package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rhythmiq/rhythmiq/pkg/pipeline"
	"github.com/rhythmiq/rhythmiq/pkg/suno"
	"gorm.io/gorm"
)

// Record stores one song per draft of the outcome, with its audio jobs.
// Runs that failed before a draft was written are stored without lyrics.
func (s *Store) Record(ctx context.Context, o *pipeline.Outcome) error {
	songs := toSongs(o)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, v := range songs {
			if err := tx.Create(v).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: failed to record outcome: %w", err)
	}
	return nil
}

func toSongs(o *pipeline.Outcome) []*Song {
	status := string(o.Status())
	var stage, errMsg string
	if o.Err != nil {
		stage = string(o.Err.Stage)
		errMsg = o.Err.Err.Error()
	}
	station := o.Station
	if station == "" {
		station = o.Request.Station
	}
	base := func() *Song {
		return &Song{
			ID:          ulid.Make().String(),
			RunID:       o.ID,
			Instruction: o.Instruction,
			Station:     station,
			Artist:      o.Request.Artist,
			Model:       o.Model,
			Status:      status,
			Stage:       stage,
			Error:       errMsg,
		}
	}
	if len(o.Drafts) == 0 {
		return []*Song{base()}
	}

	jobs := map[string]suno.Job{}
	for _, j := range o.Jobs {
		jobs[j.ID] = j
	}
	var jobErr *suno.JobError
	if o.Err != nil && errors.As(o.Err.Err, &jobErr) {
		for _, j := range jobErr.Jobs {
			jobs[j.ID] = j
		}
	}
	var songs []*Song
	for i, d := range o.Drafts {
		v := base()
		// Only the last draft can have failed
		if o.Err != nil && i < len(o.Drafts)-1 {
			v.Status = string(pipeline.StatusComplete)
			v.Stage = ""
			v.Error = ""
		}
		v.Title = d.Title
		v.Lyrics = d.Lyrics
		v.Style = d.Style
		v.NegativeStyle = d.NegativeStyle
		v.Description = d.Description
		if i < len(o.Batches) {
			b := o.Batches[i]
			v.GenerationID = b.GenerationID.String()
			for _, id := range b.IDs {
				g := &Generation{
					ID:         ulid.Make().String(),
					ExternalID: id,
					Status:     string(suno.StatusPending),
				}
				if j, ok := jobs[id]; ok {
					g.Status = string(j.Status)
					g.Audio = j.Audio
					g.Image = j.Image
					g.ImageLarge = j.ImageLarge
					g.Video = j.Video
					g.Error = j.Error
				}
				v.Generations = append(v.Generations, g)
			}
		}
		songs = append(songs, v)
	}
	return songs
}
