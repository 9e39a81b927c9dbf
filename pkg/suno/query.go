package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

const unknownError = "Unknown error"

// Media holds the urls of a completed job.
type Media struct {
	Audio      string `json:"audio_url,omitempty"`
	Image      string `json:"image_url,omitempty"`
	ImageLarge string `json:"image_large_url,omitempty"`
	Video      string `json:"video_url,omitempty"`
}

// Job is the state of an audio job. Media is only set when the job is
// complete and Error only when it failed.
type Job struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Media
	Error string `json:"error,omitempty"`
}

type clip struct {
	ID            string `json:"id"`
	SongID        string `json:"song_id"`
	Status        string `json:"status"`
	AudioURL      string `json:"audio_url"`
	ImageURL      string `json:"image_url"`
	ImageLargeURL string `json:"image_large_url"`
	VideoURL      string `json:"video_url"`
	MetaData      struct {
		ErrorMessage string `json:"error_message"`
	} `json:"meta_data"`
}

type queryResponse struct {
	Code int    `json:"code"`
	Data []clip `json:"data"`
}

// Query returns the current state of the given jobs.
func (c *Client) Query(ctx context.Context, ids []string) ([]Job, error) {
	u := fmt.Sprintf("query?ids=%s", url.QueryEscape(strings.Join(ids, ",")))
	b, err := c.do(ctx, "GET", u, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't query jobs: %w", err)
	}
	clips, err := decodeClips(b)
	if err != nil {
		return nil, err
	}
	var jobs []Job
	for i, clp := range clips {
		id := clp.SongID
		if id == "" {
			id = clp.ID
		}
		if id == "" && i < len(ids) {
			id = ids[i]
		}
		jobs = append(jobs, toJob(id, clp))
	}
	return jobs, nil
}

// decodeClips accepts both a bare list and a {code, data} envelope.
func decodeClips(b []byte) ([]clip, error) {
	b = bytes.TrimSpace(b)
	var clips []clip
	if len(b) > 0 && b[0] == '[' {
		if err := json.Unmarshal(b, &clips); err != nil {
			return nil, fmt.Errorf("suno: couldn't unmarshal clips: %w", err)
		}
		return clips, nil
	}
	var resp queryResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("suno: couldn't unmarshal clips: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("suno: query returned code %d", resp.Code)
	}
	return resp.Data, nil
}

func toJob(id string, clp clip) Job {
	job := Job{ID: id}
	switch strings.ToLower(clp.Status) {
	case string(StatusComplete):
		job.Status = StatusComplete
		job.Media = Media{
			Audio:      clp.AudioURL,
			Image:      clp.ImageURL,
			ImageLarge: clp.ImageLargeURL,
			Video:      clp.VideoURL,
		}
	case string(StatusError):
		job.Status = StatusError
		job.Error = clp.MetaData.ErrorMessage
		if job.Error == "" {
			job.Error = unknownError
		}
	default:
		job.Status = StatusPending
	}
	return job
}
