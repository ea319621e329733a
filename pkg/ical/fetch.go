package ical

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrNotModifiedWithoutCache = errors.New("received 304 Not Modified but no cached body is available")

type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	body         []byte
}

// Fetcher downloads feeds with conditional requests. Validators and bodies
// are kept in memory and, when cacheDir is set, on disk so that a restart can
// still serve the last good copy.
type Fetcher struct {
	client   *http.Client
	cacheDir string

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewFetcher(client *http.Client, cacheDir string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir, entries: map[string]cacheEntry{}}
}

// Fetch returns the feed body. A network failure or a non-OK status falls
// back to the cached body when there is one.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("feed URL is empty")
	}
	cached := f.cached(url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}
	if cached.LastModified != "" {
		req.Header.Set("If-Modified-Since", cached.LastModified)
	}

	log.Debugf("fetching feed %s", redactURL(url))
	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached.body) > 0 {
			log.Warnf("feed %s unreachable, using cached copy: %v", redactURL(url), err)
			return cached.body, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		f.store(cacheEntry{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
			body:         body,
		})
		return body, nil
	case http.StatusNotModified:
		if len(cached.body) == 0 {
			return nil, ErrNotModifiedWithoutCache
		}
		log.Debugf("feed %s not modified", redactURL(url))
		return cached.body, nil
	default:
		if len(cached.body) > 0 {
			log.Warnf("feed %s returned %s, using cached copy", redactURL(url), resp.Status)
			return cached.body, nil
		}
		return nil, fmt.Errorf("feed %s returned %s", redactURL(url), resp.Status)
	}
}

func (f *Fetcher) cached(url string) cacheEntry {
	f.mu.Lock()
	entry, ok := f.entries[url]
	f.mu.Unlock()
	if ok || f.cacheDir == "" {
		return entry
	}

	dir := f.cachePath(url)
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return cacheEntry{}
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return cacheEntry{}
	}
	entry.body, err = os.ReadFile(filepath.Join(dir, "body.ics"))
	if err != nil {
		return cacheEntry{}
	}
	return entry
}

func (f *Fetcher) store(entry cacheEntry) {
	f.mu.Lock()
	f.entries[entry.URL] = entry
	f.mu.Unlock()
	if f.cacheDir == "" {
		return
	}
	if err := f.save(entry); err != nil {
		log.Warnf("failed to save feed cache for %s: %v", redactURL(entry.URL), err)
	}
}

func (f *Fetcher) save(entry cacheEntry) error {
	dir := f.cachePath(entry.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	// body first so meta never points at a missing body
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), entry.body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

func (f *Fetcher) cachePath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

// redactURL keeps only the scheme and host, since feed URLs often embed
// access tokens.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}
