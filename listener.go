package alarm

import "github.com/google/uuid"

// Listener receives a single alarm callback. The context passed to Create is
// handed back unchanged.
type Listener interface {
	Alarm(ctx any)
}

// ListenerFunc adapts a func to the Listener interface.
type ListenerFunc func(ctx any)

// Alarm calls f(ctx).
func (f ListenerFunc) Alarm(ctx any) { f(ctx) }

// GroupListener receives the alarms of a Group as batches. For each batch in
// which at least one of the group's alarms fires, the scheduler calls
// BeginGroupAlarm with the first context, AddContext for every further
// context in firing order, and finally GroupAlarm exactly once.
//
// GroupAlarmCanceled is called when one of the group's alarms is canceled
// through its Handle or by Manager.CancelAll. It is not called when the alarm
// fires.
//
// All methods are called without any Manager lock held.
type GroupListener interface {
	BeginGroupAlarm(first any)
	AddContext(next any)
	GroupAlarm()
	GroupAlarmCanceled(ctx any)
}

// GroupID identifies a Group. It is unique within the process.
type GroupID = uuid.UUID

// Group ties alarms to one GroupListener so that the scheduler can batch them.
// A Group must only be used with a single Manager.
type Group struct {
	id       GroupID
	listener GroupListener
}

// NewGroup returns a Group with a fresh identifier.
func NewGroup(l GroupListener) *Group {
	return &Group{id: uuid.New(), listener: l}
}

// ID returns the group's identifier.
func (g *Group) ID() GroupID { return g.id }

// targetKind selects the branch of an alarm's callback target.
type targetKind uint8

const (
	targetNone targetKind = iota
	targetDirect
	targetGroup
)

// target is the callback of an alarm, resolved when the alarm is created.
type target struct {
	kind   targetKind
	direct Listener
	group  *Group
}

func directTarget(l Listener) target { return target{kind: targetDirect, direct: l} }

func groupTarget(g *Group) target { return target{kind: targetGroup, group: g} }
