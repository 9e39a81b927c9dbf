package song

import "strings"

// Parse extracts the song from the model output.
// It returns nil and no error when the output has no song call, and
// ErrMissingLyrics when the call doesn't carry lyrics.
func Parse(raw string) (*Draft, error) {
	for _, e := range Events(raw) {
		call, ok := e.(ToolCallEvent)
		if !ok || !strings.EqualFold(call.Name, ToolName) {
			continue
		}
		d := &Draft{
			Title:         call.Args["title"],
			Lyrics:        call.Args["lyrics"],
			Style:         call.Args["style"],
			NegativeStyle: call.Args["negative_style"],
			Description:   call.Args["description"],
		}
		if err := d.Normalize(); err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, nil
}
