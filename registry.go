package main

import (
	"sync"
	"time"

	"go-voter-enrollment/enrollment"
)

// SessionRegistry holds the live state machines. Drafts carry image bytes,
// so these deliberately stay in process memory and expire with the session.
type SessionRegistry struct {
	mutex   sync.Mutex
	entries map[string]*registryEntry
	ttl     time.Duration
}

type registryEntry struct {
	session   *enrollment.Session
	createdAt time.Time
}

func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		entries: make(map[string]*registryEntry),
		ttl:     ttl,
	}
}

func (r *SessionRegistry) Put(sessionId string, session *enrollment.Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.sweepLocked()
	r.entries[sessionId] = &registryEntry{session: session, createdAt: time.Now()}
}

// Get returns the live session, or nil when unknown or expired.
func (r *SessionRegistry) Get(sessionId string) *enrollment.Session {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, ok := r.entries[sessionId]
	if !ok {
		return nil
	}
	if r.expired(entry) {
		entry.session.Close()
		delete(r.entries, sessionId)
		return nil
	}
	return entry.session
}

// Remove closes the session so in-flight gateway results are discarded.
func (r *SessionRegistry) Remove(sessionId string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if entry, ok := r.entries[sessionId]; ok {
		entry.session.Close()
		delete(r.entries, sessionId)
	}
}

func (r *SessionRegistry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries)
}

func (r *SessionRegistry) expired(entry *registryEntry) bool {
	return r.ttl > 0 && time.Since(entry.createdAt) > r.ttl
}

func (r *SessionRegistry) sweepLocked() {
	for id, entry := range r.entries {
		if r.expired(entry) {
			entry.session.Close()
			delete(r.entries, id)
		}
	}
}
