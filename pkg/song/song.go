package song

import (
	"errors"
	"fmt"
	"strings"
)

// Field length bounds, counted in runes.
const (
	MaxTitle         = 80
	MaxLyrics        = 3000
	MaxStyle         = 120
	MaxNegativeStyle = 120
)

// Defaults used when the song call omits an optional field.
const (
	DefaultDescription   = "No description found"
	DefaultTitle         = "No title found"
	DefaultStyle         = "No style found"
	DefaultNegativeStyle = ""
)

// ErrMissingLyrics is returned when the song call is present but carries no
// lyrics. It is different from a response without any call.
var ErrMissingLyrics = errors.New("song: missing lyrics")

// Draft is the structured song written by the language model.
type Draft struct {
	Title         string `json:"title"`
	Lyrics        string `json:"lyrics"`
	Style         string `json:"style"`
	NegativeStyle string `json:"negative_style"`
	Description   string `json:"description,omitempty"`
}

func (d *Draft) String() string {
	return fmt.Sprintf("{t: %s, s: %s, n: %s, l: %d}", d.Title, d.Style, d.NegativeStyle, len([]rune(d.Lyrics)))
}

// Normalize trims every field, fills in the defaults of the optional fields and
// truncates them to their bounds. Lyrics are mandatory.
func (d *Draft) Normalize() error {
	d.Lyrics = truncate(strings.TrimSpace(d.Lyrics), MaxLyrics)
	if d.Lyrics == "" {
		return ErrMissingLyrics
	}
	d.Title = truncate(orDefault(d.Title, DefaultTitle), MaxTitle)
	d.Style = truncate(orDefault(d.Style, DefaultStyle), MaxStyle)
	d.NegativeStyle = truncate(orDefault(d.NegativeStyle, DefaultNegativeStyle), MaxNegativeStyle)
	d.Description = orDefault(d.Description, DefaultDescription)
	return nil
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
