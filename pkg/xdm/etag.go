package xdm

import (
	"strings"
	"sync"
)

// ETagTable maps document application ids (AUIDs) to their last known ETag.
//
// The mutex only protects the map. Requests for the same document are not
// serialized; a stale tag is caught by the server with 412 and purged.
type ETagTable struct {
	mu      sync.Mutex
	tags    map[string]string
	tracked map[string]bool
}

// NewETagTable creates an empty table.
func NewETagTable() *ETagTable {
	return &ETagTable{
		tags:    make(map[string]string),
		tracked: make(map[string]bool),
	}
}

// Track marks auid as a managed document whose ETag is recorded from responses.
func (t *ETagTable) Track(auid string) {
	t.mu.Lock()
	t.tracked[auid] = true
	t.mu.Unlock()
}

// Tracked reports whether auid is managed.
func (t *ETagTable) Tracked(auid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracked[auid]
}

// Get returns the unquoted ETag for auid.
func (t *ETagTable) Get(auid string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tag, ok := t.tags[auid]
	return tag, ok
}

// Set records an ETag. Surrounding quotes are stripped.
func (t *ETagTable) Set(auid, etag string) {
	etag = unquoteETag(etag)
	if etag == "" {
		return
	}
	t.mu.Lock()
	t.tracked[auid] = true
	t.tags[auid] = etag
	t.mu.Unlock()
}

// Remove drops the ETag for auid. The document stays tracked.
func (t *ETagTable) Remove(auid string) {
	t.mu.Lock()
	delete(t.tags, auid)
	t.mu.Unlock()
}

// Len returns the number of recorded ETags.
func (t *ETagTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tags)
}

func unquoteETag(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "W/")
	return strings.Trim(s, `"`)
}
