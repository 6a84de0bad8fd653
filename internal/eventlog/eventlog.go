// Package eventlog provides a process-wide bounded log of human-readable
// status lines, written by all components and read by operators.
package eventlog

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity is the default retention bound for the event log.
const DefaultCapacity = 50

// Entry is a single event log line.
type Entry struct {
	// Timestamp is the wall-clock time the entry was appended.
	Timestamp time.Time `json:"timestamp"`
	// Message is the human-readable log line.
	Message string `json:"message"`
}

// Log is a bounded, ordered, in-memory event log. Appends are O(1); once the
// capacity bound is exceeded the oldest entries are evicted. Reads return the
// most recent entries first. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	next     int
	size     int
	capacity int
	subs     map[chan Entry]struct{}
	mirror   func(Entry)
}

// New creates a Log retaining at most capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Log{
		entries:  make([]Entry, capacity),
		next:     0,
		size:     0,
		capacity: capacity,
		subs:     make(map[chan Entry]struct{}),
	}
}

// SetMirror registers a callback invoked synchronously for every appended
// entry, so event lines also reach the structured logger.
func (l *Log) SetMirror(fn func(Entry)) {
	l.mu.Lock()
	l.mirror = fn
	l.mu.Unlock()
}

// Append inserts a message with a generated timestamp.
func (l *Log) Append(message string) {
	entry := Entry{
		Timestamp: time.Now(),
		Message:   message,
	}

	l.mu.Lock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % l.capacity

	if l.size < l.capacity {
		l.size++
	}

	for ch := range l.subs {
		// Slow subscribers drop entries rather than blocking producers.
		select {
		case ch <- entry:
		default:
		}
	}

	mirror := l.mirror
	l.mu.Unlock()

	if mirror != nil {
		mirror(entry)
	}
}

// Appendf formats a message and appends it.
func (l *Log) Appendf(format string, args ...any) {
	l.Append(fmt.Sprintf(format, args...))
}

// Recent returns up to limit entries, most recent first. A non-positive
// limit returns nothing; limits beyond the retained size are capped.
func (l *Log) Recent(limit int) []Entry {
	if limit <= 0 {
		return []Entry{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limit > l.size {
		limit = l.size
	}

	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		// next-1 is the newest entry, walking backwards through the ring.
		idx := (l.next - i + l.capacity) % l.capacity
		out = append(out, l.entries[idx])
	}

	return out
}

// Size returns the number of retained entries.
func (l *Log) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.size
}

// Subscribe registers a live feed of future entries. The returned cancel
// function must be called to release the subscription; after cancel the
// channel is closed.
func (l *Log) Subscribe(buffer int) (<-chan Entry, func()) {
	ch := make(chan Entry, buffer)

	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subs[ch]; ok {
			delete(l.subs, ch)
			close(ch)
		}
		l.mu.Unlock()
	}

	return ch, cancel
}
