package song

import (
	"strings"
)

const (
	callOpen  = "<use_tool>"
	callClose = "</use_tool>"
	nameArg   = "name"
)

// Event is an item of the model output: either free text or a tool call.
type Event interface {
	event()
}

// TextEvent is free text emitted by the model.
type TextEvent struct {
	Text string
}

// ToolCallEvent is a structured call emitted by the model.
type ToolCallEvent struct {
	Name string
	Args map[string]string
}

func (TextEvent) event()     {}
func (ToolCallEvent) event() {}

// Events splits the model output into text and tool call events.
// A call that is never closed extends to the end of the output.
func Events(raw string) []Event {
	var events []Event
	rest := raw
	for {
		start := strings.Index(rest, callOpen)
		if start < 0 {
			break
		}
		if text := strings.TrimSpace(rest[:start]); text != "" {
			events = append(events, TextEvent{Text: text})
		}
		rest = rest[start+len(callOpen):]
		body := rest
		if end := strings.Index(rest, callClose); end >= 0 {
			body = rest[:end]
			rest = rest[end+len(callClose):]
		} else {
			rest = ""
		}
		events = append(events, toolCall(body))
	}
	if text := strings.TrimSpace(rest); text != "" {
		events = append(events, TextEvent{Text: text})
	}
	return events
}

func toolCall(body string) ToolCallEvent {
	args := map[string]string{}
	rest := body
	for {
		tag, value, next, ok := nextArg(rest)
		if !ok {
			break
		}
		rest = next
		// Keep the first occurrence of each argument
		if _, dup := args[tag]; dup {
			continue
		}
		args[tag] = strings.TrimSpace(value)
	}
	name := args[nameArg]
	delete(args, nameArg)
	return ToolCallEvent{Name: strings.TrimSpace(name), Args: args}
}

// nextArg finds the next <tag>value</tag> pair in s.
func nextArg(s string) (string, string, string, bool) {
	for {
		i := strings.IndexByte(s, '<')
		if i < 0 {
			return "", "", "", false
		}
		s = s[i+1:]
		j := strings.IndexByte(s, '>')
		if j <= 0 {
			continue
		}
		tag := s[:j]
		if !isTag(tag) {
			continue
		}
		s = s[j+1:]
		closing := "</" + tag + ">"
		k := strings.Index(s, closing)
		if k < 0 {
			// Unclosed argument, take everything until the end
			return tag, s, "", true
		}
		return tag, s[:k], s[k+len(closing):], true
	}
}

func isTag(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' || r == '-':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return s != ""
}
