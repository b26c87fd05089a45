package store

import (
	"sort"
	"time"
)

// LockInfo describes one held lock. ExpiresAt is zero when locks do not expire.
type LockInfo struct {
	Path       string    `json:"path"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

type lockEntry struct {
	token    string
	acquired time.Time
	expires  time.Time
}

// LockTable is the advisory path -> token table. Like Broker it relies on
// SignalStore for synchronization.
//
// With a zero ttl a lock is held until released. With a positive ttl an
// elapsed lease counts as unlocked and is purged on the next lookup.
type LockTable struct {
	ttl   time.Duration
	now   func() time.Time
	locks map[string]lockEntry
}

func NewLockTable(ttl time.Duration, now func() time.Time) *LockTable {
	if now == nil {
		now = time.Now
	}
	return &LockTable{ttl: ttl, now: now, locks: make(map[string]lockEntry)}
}

// Holder returns the token currently holding path.
func (t *LockTable) Holder(path string) (string, bool) {
	entry, ok := t.locks[path]
	if !ok {
		return "", false
	}
	if t.expired(entry) {
		delete(t.locks, path)
		return "", false
	}
	return entry.token, true
}

func (t *LockTable) expired(entry lockEntry) bool {
	return !entry.expires.IsZero() && !t.now().Before(entry.expires)
}

func (t *LockTable) entry(token string) lockEntry {
	now := t.now()
	entry := lockEntry{token: token, acquired: now}
	if t.ttl > 0 {
		entry.expires = now.Add(t.ttl)
	}
	return entry
}

// Acquire locks path for token iff the path is unlocked.
func (t *LockTable) Acquire(path, token string) bool {
	if token == "" {
		return false
	}
	if _, locked := t.Holder(path); locked {
		return false
	}
	t.locks[path] = t.entry(token)
	return true
}

// AcquireAll locks every path for token or none of them.
func (t *LockTable) AcquireAll(paths []string, token string) bool {
	if token == "" || len(paths) == 0 {
		return false
	}
	for _, path := range paths {
		if _, locked := t.Holder(path); locked {
			return false
		}
	}
	for _, path := range paths {
		t.locks[path] = t.entry(token)
	}
	return true
}

// Release clears the lock on path iff it is held by token.
func (t *LockTable) Release(path, token string) bool {
	holder, locked := t.Holder(path)
	if !locked || holder != token {
		return false
	}
	delete(t.locks, path)
	return true
}

// ReleaseToken clears every lock held by token and returns the freed paths in
// sorted order.
func (t *LockTable) ReleaseToken(token string) []string {
	var released []string
	for path := range t.locks {
		if holder, locked := t.Holder(path); locked && holder == token {
			delete(t.locks, path)
			released = append(released, path)
		}
	}
	sort.Strings(released)
	return released
}

// ForceRelease clears the lock on path regardless of its holder.
func (t *LockTable) ForceRelease(path string) (string, bool) {
	holder, locked := t.Holder(path)
	if !locked {
		return "", false
	}
	delete(t.locks, path)
	return holder, true
}

// Renew pushes the lease of a held lock forward. It is a no-op without a ttl.
func (t *LockTable) Renew(path, token string) {
	if t.ttl <= 0 {
		return
	}
	entry, ok := t.locks[path]
	if !ok || entry.token != token {
		return
	}
	entry.expires = t.now().Add(t.ttl)
	t.locks[path] = entry
}

func (t *LockTable) Snapshot() []LockInfo {
	infos := make([]LockInfo, 0, len(t.locks))
	for path := range t.locks {
		if _, locked := t.Holder(path); !locked {
			continue
		}
		entry := t.locks[path]
		infos = append(infos, LockInfo{Path: path, Token: entry.token, AcquiredAt: entry.acquired, ExpiresAt: entry.expires})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}
