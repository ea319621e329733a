package dailynote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event"
	log "github.com/sirupsen/logrus"
)

const Type = "dailynote"

var ErrStaleLocation = errors.New("event is no longer at the expected line")

// Calendar reads events from list items under a heading of daily notes named
// YYYY-MM-DD.md. Only single events can be stored.
type Calendar struct {
	mu        sync.Mutex
	id        string
	name      string
	color     string
	directory string
	heading   string
}

func New(id, name, color, directory, heading string) *Calendar {
	return &Calendar{
		id:        id,
		name:      name,
		color:     color,
		directory: filepath.Clean(directory),
		heading:   strings.TrimSpace(heading),
	}
}

func (c *Calendar) ID() string    { return c.id }
func (c *Calendar) Type() string  { return Type }
func (c *Calendar) Name() string  { return c.name }
func (c *Calendar) Color() string { return c.color }

func (c *Calendar) Capabilities() calendar.Capabilities {
	return calendar.Capabilities{CanCreate: true, CanEdit: true, CanDelete: true}
}

// GetLocalIdentifier always reports false: list items have no stable name.
func (c *Calendar) GetLocalIdentifier(event.Event) (string, bool) {
	return "", false
}

func (c *Calendar) GetEvents(ctx context.Context) ([]calendar.EventResponse, error) {
	entries, err := os.ReadDir(c.directory)
	if errors.Is(err, fs.ErrNotExist) {
		return []calendar.EventResponse{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list daily notes in %s: %w", c.directory, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && noteDate(e.Name()) != "" {
			paths = append(paths, filepath.Join(c.directory, e.Name()))
		}
	}
	sort.Strings(paths)

	events := []calendar.EventResponse{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := c.GetEventsInFile(ctx, path)
		if err != nil {
			log.Warnf("skipping daily note %s: %v", path, err)
			continue
		}
		events = append(events, found...)
	}
	return events, nil
}

func (c *Calendar) ContainsPath(path string) bool {
	path = filepath.Clean(path)
	return filepath.Dir(path) == c.directory && noteDate(filepath.Base(path)) != ""
}

func (c *Calendar) GetEventsInFile(_ context.Context, path string) ([]calendar.EventResponse, error) {
	date := noteDate(filepath.Base(path))
	if date == "" {
		return []calendar.EventResponse{}, nil
	}
	c.mu.Lock()
	lines, err := readLines(path)
	c.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return []calendar.EventResponse{}, nil
	}
	if err != nil {
		return nil, err
	}

	events := []calendar.EventResponse{}
	start, end, found := c.section(lines)
	if !found {
		return events, nil
	}
	for i := start; i < end; i++ {
		ev, ok, err := parseLine(lines[i], date)
		if err != nil {
			log.Warnf("%s:%d: %v", path, i+1, err)
			continue
		}
		if ok {
			events = append(events, calendar.EventResponse{
				Event:    ev,
				Location: &calendar.Location{Path: path, Line: i},
			})
		}
	}
	return events, nil
}

func (c *Calendar) CreateEvent(_ context.Context, ev event.Event) (event.Event, *calendar.Location, error) {
	if err := supported(ev); err != nil {
		return event.Event{}, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, err := c.insert(ev)
	if err != nil {
		return event.Event{}, nil, err
	}
	return ev, loc, nil
}

func (c *Calendar) ModifyEvent(_ context.Context, loc calendar.Location, ev event.Event, onLocationUpdated func(calendar.Location)) error {
	if err := supported(ev); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, err := c.checkedLines(loc)
	if err != nil {
		return err
	}
	if c.notePath(ev.Date) == filepath.Clean(loc.Path) {
		lines[loc.Line] = formatLine(ev)
		if err := writeLines(loc.Path, lines); err != nil {
			return err
		}
		onLocationUpdated(loc)
		return nil
	}

	newLoc, err := c.insert(ev)
	if err != nil {
		return err
	}
	lines = append(lines[:loc.Line], lines[loc.Line+1:]...)
	if err := writeLines(loc.Path, lines); err != nil {
		return err
	}
	onLocationUpdated(*newLoc)
	return nil
}

func (c *Calendar) DeleteEvent(_ context.Context, loc calendar.Location) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, err := c.checkedLines(loc)
	if err != nil {
		return err
	}
	return writeLines(loc.Path, append(lines[:loc.Line], lines[loc.Line+1:]...))
}

func supported(ev event.Event) error {
	if ev.Type != event.TypeSingle || ev.RecurringEventID != "" {
		return fmt.Errorf("%w: daily notes only hold single events", calendar.ErrNotSupported)
	}
	if ev.Date == "" {
		return fmt.Errorf("%w: missing date", event.ErrInvalidEvent)
	}
	return nil
}

// checkedLines reads the note at loc and makes sure loc still points at an
// event inside the events section.
func (c *Calendar) checkedLines(loc calendar.Location) ([]string, error) {
	lines, err := readLines(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily note %s: %w", loc.Path, err)
	}
	start, end, found := c.section(lines)
	if !found || loc.Line < start || loc.Line >= end {
		return nil, fmt.Errorf("%w: %s:%d", ErrStaleLocation, loc.Path, loc.Line+1)
	}
	if _, ok, _ := parseLine(lines[loc.Line], noteDate(filepath.Base(loc.Path))); !ok {
		return nil, fmt.Errorf("%w: %s:%d", ErrStaleLocation, loc.Path, loc.Line+1)
	}
	return lines, nil
}

// insert appends ev as the last item of the events section of its note,
// creating the note or the heading when needed.
func (c *Calendar) insert(ev event.Event) (*calendar.Location, error) {
	path := c.notePath(ev.Date)
	lines, err := readLines(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var at int
	if start, end, found := c.section(lines); found {
		at = start
		for i := start; i < end; i++ {
			if listItem.MatchString(lines[i]) {
				at = i + 1
			}
		}
	} else {
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
			lines = append(lines, "")
		}
		lines = append(lines, c.heading)
		at = len(lines)
	}
	lines = append(lines[:at], append([]string{formatLine(ev)}, lines[at:]...)...)

	if err := os.MkdirAll(c.directory, 0o755); err != nil {
		return nil, err
	}
	if err := writeLines(path, lines); err != nil {
		return nil, err
	}
	return &calendar.Location{Path: path, Line: at}, nil
}

// section returns the line range below the configured heading, up to the
// next heading of the same or a higher level.
func (c *Calendar) section(lines []string) (start, end int, found bool) {
	level := headingLevel(c.heading)
	for i, line := range lines {
		if !found {
			if strings.TrimSpace(line) == c.heading {
				found = true
				start = i + 1
			}
			continue
		}
		if l := headingLevel(line); l > 0 && l <= level {
			return start, i, true
		}
	}
	return start, len(lines), found
}

func headingLevel(line string) int {
	line = strings.TrimSpace(line)
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || (n < len(line) && line[n] != ' ') {
		return 0
	}
	return n
}

func (c *Calendar) notePath(date string) string {
	return filepath.Join(c.directory, date+".md")
}

func noteDate(name string) string {
	date, ok := strings.CutSuffix(name, ".md")
	if !ok {
		return ""
	}
	if _, err := event.ParseDate(date); err != nil {
		return ""
	}
	return date
}

func readLines(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return []string{}, nil
	}
	return strings.Split(text, "\n"), nil
}

func writeLines(path string, lines []string) error {
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write daily note %s: %w", path, err)
	}
	return nil
}
