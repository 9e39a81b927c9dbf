package suno

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rhythmiq/rhythmiq/pkg/song"
)

type generateRequest struct {
	Title          string `json:"title"`
	Tags           string `json:"tags"`
	GenerationType string `json:"generation_type"`
	Prompt         string `json:"prompt"`
	NegativeTags   string `json:"negative_tags"`
	MV             string `json:"mv"`
}

type generateResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    []struct {
		SongID string `json:"song_id"`
	} `json:"data"`
}

// Batch is the set of jobs created by a single submission.
type Batch struct {
	GenerationID uuid.UUID `json:"generation_id"`
	IDs          []string  `json:"ids"`
}

// Submit sends a song draft to the gateway and returns the ids of the audio
// jobs it created. Submissions aren't retried.
func (c *Client) Submit(ctx context.Context, d *song.Draft) (*Batch, error) {
	if d == nil {
		return nil, fmt.Errorf("suno: %w: nil draft", ErrSubmission)
	}
	req := &generateRequest{
		Title:          d.Title,
		Tags:           d.Style,
		GenerationType: "TEXT",
		Prompt:         d.Lyrics,
		NegativeTags:   d.NegativeStyle,
		MV:             c.model,
	}
	var resp generateResponse
	if _, err := c.do(ctx, "POST", "generate/music", req, &resp); err != nil {
		return nil, fmt.Errorf("suno: couldn't submit song: %w: %w", ErrSubmission, err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("suno: %w: code %d (%s)", ErrSubmission, resp.Code, resp.Message)
	}
	var ids []string
	for _, d := range resp.Data {
		if d.SongID == "" {
			continue
		}
		ids = append(ids, d.SongID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("suno: %w: empty song ids", ErrSubmission)
	}
	batch := &Batch{
		GenerationID: uuid.New(),
		IDs:          ids,
	}
	c.log("suno: submitted %s %v", batch.GenerationID, ids)
	return batch, nil
}
