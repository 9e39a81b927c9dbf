package song

// ToolName is the name of the tool the model must call to deliver a song.
const ToolName = "song"

// Arg describes an argument of a tool.
type Arg struct {
	Name        string
	Type        string
	Description string
}

// ToolSpec describes a callable tool so it can be rendered in a prompt.
type ToolSpec struct {
	Name        string
	Description string
	Args        []Arg
}

// Tool is the song tool.
var Tool = ToolSpec{
	Name:        ToolName,
	Description: "Deliver the finished song. Call it exactly once.",
	Args: []Arg{
		{Name: "description", Type: "string", Description: "One sentence describing the song"},
		{Name: "title", Type: "string", Description: "Song title, at most 80 characters"},
		{Name: "lyrics", Type: "string", Description: "Full lyrics with [Verse], [Chorus] and [Bridge] section tags, at most 3000 characters"},
		{Name: "style", Type: "string", Description: "Comma separated music style tags, at most 120 characters"},
		{Name: "negative_style", Type: "string", Description: "Comma separated styles to avoid, at most 120 characters, may be empty"},
	},
}
