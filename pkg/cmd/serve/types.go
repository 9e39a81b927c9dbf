package serve

import (
	"github.com/rhythmiq/rhythmiq/pkg/pipeline"
	"github.com/rhythmiq/rhythmiq/pkg/song"
	"github.com/rhythmiq/rhythmiq/pkg/station"
)

type writeResponse struct {
	song.Draft
	Instruction string `json:"instruction"`
	Model       string `json:"model,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
}

type errorResponse struct {
	Status pipeline.Status `json:"status"`
	Stage  pipeline.Stage  `json:"stage,omitempty"`
	Error  string          `json:"error"`
}

type outcomeResponse struct {
	ID     string          `json:"id"`
	Status pipeline.Status `json:"status"`
	Stage  pipeline.Stage  `json:"stage,omitempty"`
	Error  string          `json:"error,omitempty"`
	Titles []string        `json:"titles,omitempty"`
	Songs  []songResponse  `json:"songs"`
}

type songResponse struct {
	ID            string `json:"id"`
	Title         string `json:"title,omitempty"`
	GenerationID  string `json:"generation_id,omitempty"`
	Status        string `json:"status"`
	AudioURL      string `json:"audio_url,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	ImageLargeURL string `json:"image_large_url,omitempty"`
	VideoURL      string `json:"video_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

type stationResponse struct {
	station.Station
	Announcement string `json:"announcement"`
}
