package llm

import (
	"math/rand"
	"sort"
)

// nicknames are the on-air names of the models.
var nicknames = map[string]string{
	"o3-mini":                             "Ozone 3",
	"chatgpt-4o-latest":                   "GPT-4O Maestro",
	"deepseek-reasoner":                   "Deep Seeker",
	"grok-3":                              "Grok Rhymes",
	"r1-1776":                             "Perplexity Renegade",
	"claude-3-5-sonnet-20241022":          "Sonnet 3.5",
	"gemini-2.0-pro-exp-02-05":            "G-Mini Pro",
	"gemini-2.0-flash-thinking-exp-01-21": "G-Mini Flash",
}

// Nickname returns the on-air name of a model, or the model itself if it
// has none.
func Nickname(model string) string {
	if n, ok := nicknames[model]; ok {
		return n
	}
	return model
}

// Models returns the known models sorted by name.
func Models() []string {
	var ms []string
	for m := range nicknames {
		ms = append(ms, m)
	}
	sort.Strings(ms)
	return ms
}

// RandomModel picks one of the given models, or one of the known models if
// none is given.
func RandomModel(rnd *rand.Rand, models ...string) string {
	if len(models) == 0 {
		models = Models()
	}
	return models[rnd.Intn(len(models))]
}
