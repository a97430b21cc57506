package alarm

import "sync/atomic"

// TimeoutEntry is implemented by caller-owned objects that want recurring
// timeout notifications from a TimeoutManager.
//
// An entry belongs to at most one TimeoutManager at a time. The manager
// records the entry's position in TimeoutSlot, which lets it remove the entry
// in constant time; callers must not touch the slot themselves.
type TimeoutEntry interface {
	// TimeoutSlot returns the entry's slot. It must return the same pointer
	// on every call.
	TimeoutSlot() *EntrySlot
	// CancelTimeout is called by TimeoutManager.Cancel when the owner of the
	// manager is torn down.
	CancelTimeout()
}

// EntrySlot holds a TimeoutEntry's position in a TimeoutManager. The zero
// value means the entry is not active anywhere.
type EntrySlot struct {
	ref atomic.Uint64
}

// Active reports whether the entry is currently registered with a TimeoutManager.
func (s *EntrySlot) Active() bool { return s.ref.Load() != 0 }

// BaseEntry can be embedded to implement TimeoutEntry with a no-op CancelTimeout.
type BaseEntry struct {
	slot EntrySlot
}

// TimeoutSlot implements TimeoutEntry.
func (b *BaseEntry) TimeoutSlot() *EntrySlot { return &b.slot }

// CancelTimeout implements TimeoutEntry and does nothing.
func (b *BaseEntry) CancelTimeout() {}

// nodeRef addresses a node of a nodeArena: the generation in the high 32
// bits, the index in the low 32 bits. Generations start at 1, so a valid ref
// is never zero.
type nodeRef uint64

const noNode int32 = -1

func makeNodeRef(index int32, gen uint32) nodeRef {
	return nodeRef(uint64(gen)<<32 | uint64(uint32(index)))
}

func (r nodeRef) index() int32 { return int32(uint32(r)) }
func (r nodeRef) gen() uint32  { return uint32(r >> 32) }

// timeoutNode wraps one active entry and the handle of its current alarm.
type timeoutNode struct {
	entry TimeoutEntry
	alarm Handle
	prev  int32
	next  int32
	gen   uint32
	used  bool
}

// nodeArena is a doubly linked list of timeoutNodes threaded through a slice.
// Entries refer to nodes by nodeRef instead of by pointer, and freed slots
// are recycled through a free stack. A slot's generation changes every time
// it is reused, which makes refs to earlier occupants stale.
//
// Pointers returned by the arena are valid until the next insert.
// nodeArena is not safe for concurrent use.
type nodeArena struct {
	nodes []timeoutNode
	free  []int32
	head  int32
	tail  int32
	count int
}

func newNodeArena() *nodeArena {
	return &nodeArena{head: noNode, tail: noNode}
}

// Len returns the number of linked nodes.
func (a *nodeArena) Len() int { return a.count }

// insert links a new node for e at the tail.
func (a *nodeArena) insert(e TimeoutEntry) (nodeRef, *timeoutNode) {
	var idx int32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.nodes = append(a.nodes, timeoutNode{})
		idx = int32(len(a.nodes) - 1)
	}
	n := &a.nodes[idx]
	n.gen++
	if n.gen == 0 {
		n.gen = 1
	}
	n.entry = e
	n.alarm = Handle{}
	n.used = true
	n.prev = a.tail
	n.next = noNode
	if a.tail != noNode {
		a.nodes[a.tail].next = idx
	} else {
		a.head = idx
	}
	a.tail = idx
	a.count++
	return makeNodeRef(idx, n.gen), n
}

// get returns the node r refers to, or nil if r is stale.
func (a *nodeArena) get(r nodeRef) *timeoutNode {
	idx := r.index()
	if r == 0 || idx < 0 || int(idx) >= len(a.nodes) {
		return nil
	}
	n := &a.nodes[idx]
	if !n.used || n.gen != r.gen() {
		return nil
	}
	return n
}

// lookup is get with a check that the node still wraps e.
func (a *nodeArena) lookup(r nodeRef, e TimeoutEntry) *timeoutNode {
	n := a.get(r)
	if n == nil || n.entry != e {
		return nil
	}
	return n
}

// remove unlinks the node r refers to and frees its slot. Stale refs are ignored.
func (a *nodeArena) remove(r nodeRef) {
	n := a.get(r)
	if n == nil {
		return
	}
	if n.prev != noNode {
		a.nodes[n.prev].next = n.next
	} else {
		a.head = n.next
	}
	if n.next != noNode {
		a.nodes[n.next].prev = n.prev
	} else {
		a.tail = n.prev
	}
	n.entry = nil
	n.alarm = Handle{}
	n.used = false
	n.prev, n.next = noNode, noNode
	a.free = append(a.free, r.index())
	a.count--
}

// each calls fn for every linked node in insertion order. fn must not insert
// or remove nodes.
func (a *nodeArena) each(fn func(r nodeRef, n *timeoutNode)) {
	for idx := a.head; idx != noNode; {
		n := &a.nodes[idx]
		next := n.next
		fn(makeNodeRef(idx, n.gen), n)
		idx = next
	}
}
