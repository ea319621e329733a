package local

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klokku/calcache/pkg/event"
	"gopkg.in/yaml.v3"
)

var ErrNoFrontmatter = errors.New("note has no frontmatter")

const delimiter = "---"

// splitFrontmatter separates the YAML block at the top of a note from the
// note body.
func splitFrontmatter(content []byte) (front []byte, body []byte, err error) {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(content, []byte(delimiter+"\n")) {
		return nil, content, ErrNoFrontmatter
	}
	rest := content[len(delimiter)+1:]
	if bytes.HasPrefix(rest, []byte(delimiter+"\n")) || bytes.Equal(rest, []byte(delimiter)) {
		return nil, bytes.TrimPrefix(rest[len(delimiter):], []byte("\n")), nil
	}
	end := bytes.Index(rest, []byte("\n"+delimiter+"\n"))
	if end < 0 {
		if bytes.HasSuffix(rest, []byte("\n"+delimiter)) {
			return rest[:len(rest)-len(delimiter)-1], nil, nil
		}
		return nil, content, ErrNoFrontmatter
	}
	return rest[:end+1], rest[end+len(delimiter)+2:], nil
}

func parseNote(content []byte) (event.Event, []byte, error) {
	front, body, err := splitFrontmatter(content)
	if err != nil {
		return event.Event{}, body, err
	}
	var ev event.Event
	if err := yaml.Unmarshal(front, &ev); err != nil {
		return event.Event{}, body, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	if ev.Type == "" {
		ev.Type = event.TypeSingle
	}
	return ev, body, nil
}

func renderNote(ev event.Event, body []byte) ([]byte, error) {
	front, err := yaml.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	buf.Write(front)
	buf.WriteString(delimiter + "\n")
	buf.Write(body)
	return buf.Bytes(), nil
}
