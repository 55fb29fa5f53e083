package stream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// hintKeys are the input fields surfaced before a tool's input is complete.
var hintKeys = []string{"query", "url", "command", "expression", "path"}

// Hint is a recognizable input field parsed from a partial tool input.
type Hint struct {
	Key   string
	Value string
}

// Status is the progress label shown while the hinted call is prepared.
func (h Hint) Status() string {
	switch h.Key {
	case "query":
		return "searching"
	case "url":
		return "fetching"
	default:
		return "preparing"
	}
}

// Hints extracts completed string fields from a partial JSON object. Values
// still being streamed are never reported.
func Hints(partial string) []Hint {
	closed, ok := closePartial(partial)
	if !ok {
		return nil
	}

	var out []Hint
	for _, key := range hintKeys {
		r := gjson.Get(closed, key)
		if r.Type == gjson.String && r.Str != "" {
			out = append(out, Hint{Key: key, Value: r.Str})
		}
	}
	return out
}

// closePartial appends the closing brackets of a truncated JSON document. It
// gives up while a string literal is open.
func closePartial(buf string) (string, bool) {
	var stack []byte
	inString, escaped := false, false

	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		return "", false
	}

	out := strings.TrimRight(buf, " \t\r\n")
	out = strings.TrimSuffix(out, ",")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}

	if !gjson.Valid(out) || !gjson.Parse(out).IsObject() {
		return "", false
	}
	return out, true
}
