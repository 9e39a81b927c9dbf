package station

import (
	"fmt"
	"math/rand"
)

// Station is a radio station. Its instruction is appended to the prompt of
// every song generated for it.
type Station struct {
	ID          string `yaml:"id" json:"id"`
	Frequency   string `yaml:"frequency" json:"frequency"`
	Name        string `yaml:"name" json:"name"`
	Tagline     string `yaml:"tagline" json:"tagline"`
	Description string `yaml:"description" json:"description"`
	Instruction string `yaml:"instruction" json:"instruction"`
}

// Announcement formats the station the way a radio host would introduce it.
func (s Station) Announcement() string {
	return fmt.Sprintf("%s %s - %s", s.Frequency, s.Name, s.Tagline)
}

// Catalog is a read-only list of stations.
type Catalog struct {
	stations []Station
	lookup   map[string]int
}

// New creates a catalog from the given stations. Duplicated ids are rejected.
func New(stations []Station) (*Catalog, error) {
	lookup := map[string]int{}
	for i, s := range stations {
		if s.ID == "" {
			return nil, fmt.Errorf("station: empty id at position %d", i)
		}
		if _, ok := lookup[s.ID]; ok {
			return nil, fmt.Errorf("station: duplicated id %s", s.ID)
		}
		lookup[s.ID] = i
	}
	return &Catalog{
		stations: stations,
		lookup:   lookup,
	}, nil
}

// Get returns the station with the given id.
func (c *Catalog) Get(id string) (Station, bool) {
	i, ok := c.lookup[id]
	if !ok {
		return Station{}, false
	}
	return c.stations[i], true
}

// List returns a copy of the stations.
func (c *Catalog) List() []Station {
	return append([]Station(nil), c.stations...)
}

// Random picks a station using the given random source.
func (c *Catalog) Random(rnd *rand.Rand) (Station, bool) {
	if len(c.stations) == 0 {
		return Station{}, false
	}
	return c.stations[rnd.Intn(len(c.stations))], true
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultStations)
	if err != nil {
		panic(err)
	}
	return c
}

var defaultStations = []Station{
	{
		ID:          "workout",
		Frequency:   "99.1 FM",
		Name:        "PowerMix FM",
		Tagline:     "Your ultimate AI-powered workout playlist, never slow down.",
		Description: "Energetic AI-generated beats and dynamic rhythms, designed to fuel high-intensity workouts, fitness routines, and motivation.",
		Instruction: "Generate high-energy, adrenaline-pumping workout music.",
	},
	{
		ID:          "relaxation",
		Frequency:   "88.5 FM",
		Name:        "ChillWave Radio",
		Tagline:     "Smooth lo-fi vibes to unwind and recharge.",
		Description: "Lo-fi and chill-hop beats crafted by AI for relaxation, sleep aid, and mindfulness moments.",
		Instruction: "Produce calm, soothing tracks perfect for relaxation and mindfulness.",
	},
	{
		ID:          "deep_focus",
		Frequency:   "104.3 FM",
		Name:        "Deep Focus Radio",
		Tagline:     "Sonic fuel for productivity and deep concentration.",
		Description: "Instrumental, ambient, and minimalistic tunes engineered to help listeners achieve deep productivity and focused workflow.",
		Instruction: "Craft ambient and minimalistic tunes to aid deep concentration and focus.",
	},
	{
		ID:          "oldies_inspired",
		Frequency:   "95.7 FM",
		Name:        "Golden Era Hits",
		Tagline:     "Modern AI takes on timeless classics.",
		Description: "AI-generated tracks inspired by the melodies and rhythms of Motown, soul, and classic oldies-era music.",
		Instruction: "Create modern twists on classic oldies with soulful, Motown-inspired vibes.",
	},
}
