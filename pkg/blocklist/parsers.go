package blocklist

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Entry is one parsed blocklist row before merging into the index.
type Entry struct {
	// ID is the extension identifier, lowercased by the parsers.
	ID string

	// Name is the display name the feed associates with the id, when
	// the format carries one.
	Name string
}

// markdownRowPattern matches table rows of the form
// "| <32-char id> | <name> |". Feeds publish Chrome identifiers, so the
// id column is 32 lowercase letters.
var markdownRowPattern = regexp.MustCompile(`\|\s*([a-z]{32})\s*\|\s*([^|]+)`)

// Parse dispatches to the parser for a source's format.
func Parse(format Format, payload []byte) ([]Entry, error) {
	switch format {
	case FormatText:
		return ParseText(payload), nil
	case FormatJSON:
		return ParseJSON(payload)
	case FormatMarkdown:
		return ParseMarkdown(payload), nil
	default:
		return nil, fmt.Errorf("unknown blocklist format %q", format)
	}
}

// ParseText parses line-oriented feeds. Blank lines and lines starting
// with # are skipped; the first whitespace-separated token of each
// remaining line is the identifier.
func ParseText(payload []byte) []Entry {
	var entries []Entry
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		entries = append(entries, Entry{ID: strings.ToLower(fields[0])})
	}
	return entries
}

// ParseJSON parses array feeds. Elements are either identifier strings
// or objects carrying id and name fields; unrecognized elements are
// skipped.
func ParseJSON(payload []byte) ([]Entry, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(payload, &elements); err != nil {
		return nil, fmt.Errorf("parse json blocklist: %w", err)
	}

	var entries []Entry
	for _, element := range elements {
		var id string
		if err := json.Unmarshal(element, &id); err == nil {
			if id = strings.TrimSpace(id); id != "" {
				entries = append(entries, Entry{ID: strings.ToLower(id)})
			}
			continue
		}

		var obj struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(element, &obj); err == nil && strings.TrimSpace(obj.ID) != "" {
			entries = append(entries, Entry{
				ID:   strings.ToLower(strings.TrimSpace(obj.ID)),
				Name: strings.TrimSpace(obj.Name),
			})
		}
	}
	return entries, nil
}

// ParseMarkdown extracts identifier rows from markdown tables.
func ParseMarkdown(payload []byte) []Entry {
	matches := markdownRowPattern.FindAllStringSubmatch(string(payload), -1)
	entries := make([]Entry, 0, len(matches))
	for _, m := range matches {
		entries = append(entries, Entry{
			ID:   m[1],
			Name: strings.TrimSpace(m[2]),
		})
	}
	return entries
}
