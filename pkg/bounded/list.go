// Package bounded provides a FIFO-capped list used to accumulate the most
// recent N items of a realtime feed.
package bounded

// List holds at most Cap items. When full, the oldest item is evicted.
// A List is not safe for concurrent use; callers guard it.
type List[T any] struct {
	items []T // oldest first
	cap   int
}

// New creates a List with the given capacity. A capacity below 1 is
// treated as 1.
func New[T any](capacity int) *List[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &List[T]{items: make([]T, 0, capacity), cap: capacity}
}

// Push appends items in order, evicting the oldest entries past capacity.
func (l *List[T]) Push(items ...T) {
	l.items = append(l.items, items...)
	if over := len(l.items) - l.cap; over > 0 {
		kept := make([]T, l.cap)
		copy(kept, l.items[over:])
		l.items = kept
	}
}

// Len returns the number of items held.
func (l *List[T]) Len() int { return len(l.items) }

// Cap returns the configured capacity.
func (l *List[T]) Cap() int { return l.cap }

// Oldest returns a copy of the items, oldest first.
func (l *List[T]) Oldest() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Newest returns a copy of the items, newest first.
func (l *List[T]) Newest() []T {
	out := make([]T, len(l.items))
	for i, v := range l.items {
		out[len(l.items)-1-i] = v
	}
	return out
}

// Update applies fn to every item and stops at the first one for which fn
// returns true. It reports whether any item matched.
func (l *List[T]) Update(fn func(*T) bool) bool {
	for i := len(l.items) - 1; i >= 0; i-- {
		if fn(&l.items[i]) {
			return true
		}
	}
	return false
}

// RemoveFunc drops every item for which match returns true and reports how
// many were removed.
func (l *List[T]) RemoveFunc(match func(T) bool) int {
	kept := l.items[:0]
	removed := 0
	for _, v := range l.items {
		if match(v) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	var zero T
	for i := len(kept); i < len(l.items); i++ {
		l.items[i] = zero
	}
	l.items = kept
	return removed
}

// Reset removes all items.
func (l *List[T]) Reset() {
	l.items = make([]T, 0, l.cap)
}

// Replace discards the current items and pushes items, oldest first.
func (l *List[T]) Replace(items []T) {
	l.Reset()
	l.Push(items...)
}
