package alarm

import "github.com/eapache/queue"

// firingList accumulates the alarms of the batch currently being assembled,
// in the order they left the pending list, together with the time at which
// the batch has to be delivered.
//
// firingList is not safe for concurrent use.
type firingList struct {
	q        *queue.Queue
	deadline instant
}

func newFiringList() *firingList {
	return &firingList{q: queue.New()}
}

// Len returns the number of alarms in the batch.
func (f *firingList) Len() int { return f.q.Length() }

// Deadline returns the batch delivery time and whether a batch exists.
func (f *firingList) Deadline() (instant, bool) {
	if f.q.Length() == 0 {
		return 0, false
	}
	return f.deadline, true
}

// Add appends a to the batch. The delivery time becomes the earliest latest
// time of any member, but never earlier than a's own target; alarms arrive in
// target order, so the result is valid for every member.
func (f *firingList) Add(a *alarm) {
	if f.q.Length() == 0 {
		f.deadline = a.latest
	} else {
		f.deadline = max(min(f.deadline, a.latest), a.target)
	}
	f.q.Add(a)
}

// TakeAll moves every alarm of the batch onto dst, preserving order, and
// leaves the list empty.
func (f *firingList) TakeAll(dst []*alarm) []*alarm {
	for f.q.Length() > 0 {
		dst = append(dst, f.q.Remove().(*alarm)) //nolint:forcetypeassert // only *alarm is ever added
	}
	f.deadline = 0
	return dst
}
