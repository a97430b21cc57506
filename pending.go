package alarm

import (
	"slices"
	"sort"
)

// DefaultInsertScanLimit is how many entries an insertion walks back from the
// tail of the pending list before switching to binary search.
const DefaultInsertScanLimit = 32

// pendingCompactThreshold is the minimum number of popped slots at the front
// before the backing array is compacted.
const pendingCompactThreshold = 64

// pendingList keeps alarms ordered by target time, earliest first. Alarms
// with equal targets stay in insertion order.
//
// New registrations are usually the latest deadline seen so far, so Insert
// scans backwards from the tail; the scan is bounded and falls back to a
// binary search for registrations that land deep inside the list. Pop only
// advances a head offset, which makes draining the front O(1).
//
// pendingList is not safe for concurrent use.
type pendingList struct {
	items     []*alarm
	head      int
	scanLimit int
}

func newPendingList(scanLimit int) *pendingList {
	if scanLimit <= 0 {
		scanLimit = DefaultInsertScanLimit
	}
	return &pendingList{scanLimit: scanLimit}
}

// Len returns the number of alarms in the list.
func (l *pendingList) Len() int { return len(l.items) - l.head }

// Peek returns the earliest alarm without removing it, or nil.
func (l *pendingList) Peek() *alarm {
	if l.head == len(l.items) {
		return nil
	}
	return l.items[l.head]
}

// Pop removes and returns the earliest alarm, or nil if the list is empty.
func (l *pendingList) Pop() *alarm {
	if l.head == len(l.items) {
		return nil
	}
	a := l.items[l.head]
	l.items[l.head] = nil // avoid memory leak
	l.head++
	if l.head == len(l.items) {
		l.items = l.items[:0]
		l.head = 0
	} else if l.head >= pendingCompactThreshold && l.head*2 >= len(l.items) {
		n := copy(l.items, l.items[l.head:])
		clear(l.items[n:])
		l.items = l.items[:n]
		l.head = 0
	}
	return a
}

// Insert adds a at its ordered position and returns the number of entries
// that now precede it.
func (l *pendingList) Insert(a *alarm) int {
	i := len(l.items)
	lo := l.head
	for scanned := 0; i > lo && l.items[i-1].target > a.target; scanned++ {
		if scanned == l.scanLimit {
			i = lo + sort.Search(i-lo, func(k int) bool {
				return l.items[lo+k].target > a.target
			})
			break
		}
		i--
	}
	if i == l.head && l.head > 0 {
		l.head--
		l.items[l.head] = a
		return 0
	}
	l.items = slices.Insert(l.items, i, a)
	return i - l.head
}

// Drain removes and returns every alarm in order.
func (l *pendingList) Drain() []*alarm {
	out := slices.Clone(l.items[l.head:])
	clear(l.items)
	l.items = l.items[:0]
	l.head = 0
	return out
}
