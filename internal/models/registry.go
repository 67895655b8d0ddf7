package models

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// Registry is the process-wide model table plus the currently loaded model
// id. The worker is the only writer for the current id (under the processing
// lock); snapshot reads for /v1/models and /health tolerate staleness.
type Registry struct {
	mu       sync.RWMutex
	entries  []ModelEntry
	excluded map[string]bool
	current  string
}

func NewRegistry() *Registry {
	return &Registry{excluded: make(map[string]bool)}
}

// SetEntries replaces the model table, e.g. after a page reload re-fetches
// the model list.
func (r *Registry) SetEntries(entries []ModelEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = entries
}

// Entries returns the model table with the exclusion filter applied at read
// time.
func (r *Registry) Entries() []ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if !r.excluded[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

// Empty reports whether the model table has not been populated yet.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) == 0
}

// Lookup finds an entry by model id, respecting the exclusion set.
func (r *Registry) Lookup(id string) (ModelEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.excluded[id] {
		return ModelEntry{}, false
	}
	for _, e := range r.entries {
		if e.ID == id {
			return e, true
		}
	}
	return ModelEntry{}, false
}

// LookupByDisplayName maps a displayed model name back to its entry with a
// loose case-insensitive match.
func (r *Registry) LookupByDisplayName(name string) (ModelEntry, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return ModelEntry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		have := strings.ToLower(strings.TrimSpace(e.DisplayName))
		if have == "" {
			continue
		}
		if have == want || strings.Contains(have, want) || strings.Contains(want, have) {
			return e, true
		}
	}
	return ModelEntry{}, false
}

// Exclude marks model ids that must never be offered or accepted.
func (r *Registry) Exclude(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			r.excluded[id] = true
		}
	}
}

// Current returns the model id currently loaded on the page.
func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// SetCurrent records the model id now loaded on the page.
func (r *Registry) SetCurrent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = id
}

// LoadExcludedModels reads an exclusion file, one model id per line, blank
// lines and #-comments ignored. A missing file is not an error.
func LoadExcludedModels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, scanner.Err()
}
