package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event"
	log "github.com/sirupsen/logrus"
)

const Type = "local"

var ErrAlreadyExists = errors.New("a note with this name already exists")

// Calendar keeps one event per markdown note inside a directory. The event
// lives in the note's YAML frontmatter and the note body is left untouched.
type Calendar struct {
	id        string
	name      string
	color     string
	directory string
}

func New(id, name, color, directory string) *Calendar {
	return &Calendar{id: id, name: name, color: color, directory: filepath.Clean(directory)}
}

func (c *Calendar) ID() string    { return c.id }
func (c *Calendar) Type() string  { return Type }
func (c *Calendar) Name() string  { return c.name }
func (c *Calendar) Color() string { return c.color }

func (c *Calendar) Capabilities() calendar.Capabilities {
	return calendar.Capabilities{CanCreate: true, CanEdit: true, CanDelete: true}
}

func (c *Calendar) GetEvents(ctx context.Context) ([]calendar.EventResponse, error) {
	var paths []string
	err := filepath.WalkDir(c.directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			paths = append(paths, path)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list notes in %s: %w", c.directory, err)
	}
	sort.Strings(paths)

	events := make([]calendar.EventResponse, 0, len(paths))
	for _, path := range paths {
		found, err := c.GetEventsInFile(ctx, path)
		if err != nil {
			log.Warnf("skipping note %s: %v", path, err)
			continue
		}
		events = append(events, found...)
	}
	return events, nil
}

// GetLocalIdentifier returns the note path relative to the calendar
// directory. It is derived from the event so that overrides can reference a
// master before the master is read back.
func (c *Calendar) GetLocalIdentifier(ev event.Event) (string, bool) {
	name := fileName(ev)
	if name == "" {
		return "", false
	}
	return name, true
}

func (c *Calendar) ContainsPath(path string) bool {
	if !strings.HasSuffix(path, ".md") {
		return false
	}
	rel, err := filepath.Rel(c.directory, filepath.Clean(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (c *Calendar) GetEventsInFile(_ context.Context, path string) ([]calendar.EventResponse, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []calendar.EventResponse{}, nil
	}
	if err != nil {
		return nil, err
	}
	ev, _, err := parseNote(content)
	if errors.Is(err, ErrNoFrontmatter) {
		return []calendar.EventResponse{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return []calendar.EventResponse{{Event: ev, Location: &calendar.Location{Path: path}}}, nil
}

func (c *Calendar) CreateEvent(_ context.Context, ev event.Event) (event.Event, *calendar.Location, error) {
	path, err := c.pathFor(ev)
	if err != nil {
		return event.Event{}, nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return event.Event{}, nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	if err := c.write(path, ev, nil); err != nil {
		return event.Event{}, nil, err
	}
	log.Debugf("created note %s", path)
	return ev, &calendar.Location{Path: path}, nil
}

// ModifyEvent rewrites the note's frontmatter and renames the note when its
// title or date changed.
func (c *Calendar) ModifyEvent(_ context.Context, loc calendar.Location, ev event.Event, onLocationUpdated func(calendar.Location)) error {
	content, err := os.ReadFile(loc.Path)
	if err != nil {
		return fmt.Errorf("failed to read note %s: %w", loc.Path, err)
	}
	_, body, err := parseNote(content)
	if err != nil && !errors.Is(err, ErrNoFrontmatter) {
		return err
	}
	newPath, err := c.pathFor(ev)
	if err != nil {
		return err
	}
	if newPath != loc.Path {
		if _, err := os.Stat(newPath); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, newPath)
		}
	}
	if err := c.write(newPath, ev, body); err != nil {
		return err
	}
	if newPath != loc.Path {
		if err := os.Remove(loc.Path); err != nil {
			return fmt.Errorf("failed to remove renamed note %s: %w", loc.Path, err)
		}
		log.Debugf("renamed note %s to %s", loc.Path, newPath)
	}
	onLocationUpdated(calendar.Location{Path: newPath})
	return nil
}

func (c *Calendar) DeleteEvent(_ context.Context, loc calendar.Location) error {
	if err := os.Remove(loc.Path); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", loc.Path, err)
	}
	return nil
}

func (c *Calendar) pathFor(ev event.Event) (string, error) {
	name := fileName(ev)
	if name == "" {
		return "", fmt.Errorf("%w: event title is empty", event.ErrInvalidEvent)
	}
	return filepath.Join(c.directory, name), nil
}

func (c *Calendar) write(path string, ev event.Event, body []byte) error {
	content, err := renderNote(ev, body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write note %s: %w", path, err)
	}
	return nil
}

var unsafeChars = strings.NewReplacer(
	"/", "", "\\", "", ":", "", "*", "", "?", "", "\"", "", "<", "", ">", "", "|", "",
)

// fileName is "<date> <title>.md" for single events and "<title>.md" for
// recurring ones.
func fileName(ev event.Event) string {
	title := strings.TrimSpace(unsafeChars.Replace(ev.Title))
	if title == "" {
		return ""
	}
	if ev.Type == event.TypeSingle && ev.Date != "" {
		return ev.Date + " " + title + ".md"
	}
	return title + ".md"
}
