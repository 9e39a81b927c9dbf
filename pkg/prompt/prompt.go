package prompt

import (
	"embed"
	"errors"
	"fmt"
	iofs "io/fs"
	"math/rand"
	"path"
	"sort"
	"strings"

	"github.com/rhythmiq/rhythmiq/pkg/song"
	"github.com/rhythmiq/rhythmiq/pkg/station"
)

// ErrConfig is returned when the prompt templates are missing or unusable.
var ErrConfig = errors.New("prompt: invalid configuration")

const (
	baseFile        = "base.txt"
	systemFile      = "system.txt"
	songsDir        = "songs"
	instructionsDir = "instructions"

	defaultShots = 2
)

//go:embed templates
var templates embed.FS

// Default returns the built-in templates.
func Default() iofs.FS {
	fs, err := iofs.Sub(templates, "templates")
	if err != nil {
		panic(err)
	}
	return fs
}

type Config struct {
	// FS holds base.txt, system.txt, songs/*.txt and instructions/*.txt.
	// The built-in templates are used if nil.
	FS iofs.FS
	// Shots is the number of example songs added to the prompt. Negative
	// values disable examples.
	Shots int
	// Stations is used to look up station guidance.
	Stations *station.Catalog
	// Instructions overrides the instruction pool of the templates.
	Instructions []string
}

// Assembler builds the prompts sent to the language model.
type Assembler struct {
	system       string
	base         string
	examples     []string
	instructions []string
	shots        int
	stations     *station.Catalog
}

// Input is the request to write one song.
type Input struct {
	Instruction string
	Station     string
	Artist      string
}

// Prompt is the assembled system and user prompt.
type Prompt struct {
	System string
	User   string
	// Instruction is the instruction used, which may have been drawn from
	// the pool.
	Instruction string
}

// New loads the templates. It fails if the base or system templates are
// missing.
func New(cfg *Config) (*Assembler, error) {
	fs := cfg.FS
	if fs == nil {
		fs = Default()
	}
	base, err := readRequired(fs, baseFile)
	if err != nil {
		return nil, err
	}
	system, err := readRequired(fs, systemFile)
	if err != nil {
		return nil, err
	}
	examples, err := readDir(fs, songsDir)
	if err != nil {
		return nil, err
	}
	instructions := cfg.Instructions
	if len(instructions) == 0 {
		instructions, err = readDir(fs, instructionsDir)
		if err != nil {
			return nil, err
		}
	}
	shots := cfg.Shots
	if shots == 0 {
		shots = defaultShots
	}
	stations := cfg.Stations
	if stations == nil {
		stations = station.Default()
	}
	return &Assembler{
		system:       system,
		base:         base,
		examples:     examples,
		instructions: instructions,
		shots:        shots,
		stations:     stations,
	}, nil
}

func readRequired(fs iofs.FS, name string) (string, error) {
	b, err := iofs.ReadFile(fs, name)
	if err != nil {
		return "", fmt.Errorf("%w: couldn't read %s: %v", ErrConfig, name, err)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrConfig, name)
	}
	return s, nil
}

// readDir reads every .txt file of a directory sorted by name. A missing
// directory isn't an error.
func readDir(fs iofs.FS, dir string) ([]string, error) {
	entries, err := iofs.ReadDir(fs, dir)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't read %s: %v", ErrConfig, dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var vs []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".txt" {
			continue
		}
		b, err := iofs.ReadFile(fs, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: couldn't read %s: %v", ErrConfig, e.Name(), err)
		}
		if s := strings.TrimSpace(string(b)); s != "" {
			vs = append(vs, s)
		}
	}
	return vs, nil
}

// RandomInstruction draws an instruction from the pool.
func (a *Assembler) RandomInstruction(rnd *rand.Rand) (string, error) {
	if len(a.instructions) == 0 {
		return "", fmt.Errorf("%w: instruction pool is empty", ErrConfig)
	}
	return a.instructions[rnd.Intn(len(a.instructions))], nil
}

// Station returns the station with the given id, if any.
func (a *Assembler) Station(id string) (station.Station, bool) {
	if id == "" {
		return station.Station{}, false
	}
	return a.stations.Get(id)
}

// RandomStation draws a station from the catalog.
func (a *Assembler) RandomStation(rnd *rand.Rand) (station.Station, bool) {
	return a.stations.Random(rnd)
}

// Build assembles the prompt. An empty instruction is replaced by a random
// one from the pool.
func (a *Assembler) Build(in Input, rnd *rand.Rand) (*Prompt, error) {
	instruction := strings.TrimSpace(in.Instruction)
	if instruction == "" {
		var err error
		instruction, err = a.RandomInstruction(rnd)
		if err != nil {
			return nil, err
		}
	}

	var sb strings.Builder
	sb.WriteString(a.base)
	sb.WriteString("\n")

	for i, example := range a.sample(rnd) {
		fmt.Fprintf(&sb, "\nExample %d:\nSong:\n%s\n", i+1, example)
	}

	if s, ok := a.Station(in.Station); ok && s.Instruction != "" {
		fmt.Fprintf(&sb, "\nStation:\nThis song will air on %s (%s). %s\n", s.Name, s.Frequency, s.Instruction)
	}

	if artist := strings.TrimSpace(in.Artist); artist != "" {
		fmt.Fprintf(&sb, "\nArtist:\nYou are writing for %s. Match their voice, themes and musical style.\n", artist)
	}

	sb.WriteString("\n")
	sb.WriteString(FormatTool(song.Tool))

	fmt.Fprintf(&sb, "\nInstructions:\n%s", instruction)

	return &Prompt{
		System:      a.system,
		User:        sb.String(),
		Instruction: instruction,
	}, nil
}

func (a *Assembler) sample(rnd *rand.Rand) []string {
	n := a.shots
	if n < 0 {
		return nil
	}
	if n > len(a.examples) {
		n = len(a.examples)
	}
	var vs []string
	for _, i := range rnd.Perm(len(a.examples))[:n] {
		vs = append(vs, a.examples[i])
	}
	return vs
}

// FormatTool describes a tool and how to call it with the use_tool block syntax.
func FormatTool(t song.ToolSpec) string {
	var sb strings.Builder
	sb.WriteString("You can invoke the following tool by writing a use_tool block:\n")
	fmt.Fprintf(&sb, "Tool name: %s\n", t.Name)
	fmt.Fprintf(&sb, "Description: %s\n", t.Description)
	sb.WriteString("Arguments:\n")
	for _, arg := range t.Args {
		fmt.Fprintf(&sb, "  %s (%s): %s\n", arg.Name, arg.Type, arg.Description)
	}
	sb.WriteString("Usage:\n<use_tool>\n")
	fmt.Fprintf(&sb, "    <name>%s</name>\n", t.Name)
	for _, arg := range t.Args {
		fmt.Fprintf(&sb, "    <%s>value</%s>\n", arg.Name, arg.Name)
	}
	sb.WriteString("</use_tool>\n")
	return sb.String()
}
