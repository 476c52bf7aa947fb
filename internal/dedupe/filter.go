// ABOUTME: Bounded TTL filter that recognizes repeated inbound message deliveries
// ABOUTME: Keys on identity and message id and expires entries lazily against an injectable clock

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Filter remembers recently seen message keys.
type Filter struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a filter. maxSize <= 0 defaults to 1000.
func New(ttl time.Duration, maxSize int) *Filter {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Filter{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (f *Filter) WithClock(now func() time.Time) *Filter {
	f.now = now
	return f
}

func key(identity, messageID string) string {
	return identity + "\x00" + messageID
}

// Seen reports whether the message was already seen within the window.
// An unseen message is marked in the same step.
func (f *Filter) Seen(identity, messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.expireLocked(now)

	k := key(identity, messageID)
	if _, ok := f.seen[k]; ok {
		return true
	}

	if f.order.Len() >= f.maxSize {
		if front := f.order.Front(); front != nil {
			f.order.Remove(front)
			delete(f.seen, front.Value.(*entry).key)
		}
	}
	f.seen[k] = f.order.PushBack(&entry{key: k, seenAt: now})
	return false
}

// Forget drops a key so a later redelivery is processed again.
func (f *Filter) Forget(identity, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(identity, messageID)
	if elem, ok := f.seen[k]; ok {
		f.order.Remove(elem)
		delete(f.seen, k)
	}
}

// Len returns the number of remembered keys.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireLocked(f.now())
	return f.order.Len()
}

// expireLocked drops entries older than ttl. Entries are in insertion order
// so the scan stops at the first live one.
func (f *Filter) expireLocked(now time.Time) {
	for front := f.order.Front(); front != nil; front = f.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.seenAt) < f.ttl {
			return
		}
		f.order.Remove(front)
		delete(f.seen, e.key)
	}
}
