package hub

import (
	"sync"
	"sync/atomic"
)

const defaultSendBuffer = 32

// Subscriber is one connected client's registration in a workspace.
// Events arrive on Events; Done closes when the subscriber has been
// detached (leave, or dropped for falling behind).
type Subscriber struct {
	id          int64
	workspaceID string
	userEmail   string
	stream      chan Event
	done        chan struct{}
	closeOnce   sync.Once
}

// ID returns the subscriber's process-local identifier, used as the
// event origin for echo suppression.
func (s *Subscriber) ID() int64 {
	return s.id
}

// Events is the subscriber's inbound event stream.
func (s *Subscriber) Events() <-chan Event {
	return s.stream
}

// Done closes once the subscriber has been detached from its workspace.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// WorkspaceID returns the workspace this subscriber joined.
func (s *Subscriber) WorkspaceID() string {
	return s.workspaceID
}

// UserEmail returns the identity the subscriber joined with.
func (s *Subscriber) UserEmail() string {
	return s.userEmail
}

func (s *Subscriber) signalClosed() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Registry maps workspace ids to their currently connected subscriber
// sets. Fan-out reads take only read locks, so delivery in one
// workspace never contends with delivery in another; membership
// changes serialize on the registry lock so an empty room is never
// deleted out from under a join that already resolved its pointer.
// Process-local; rebuilt from zero on restart.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*room
	nextID     atomic.Int64
	bufferSize int
}

type room struct {
	mu          sync.RWMutex
	subscribers map[int64]*Subscriber
}

// NewRegistry constructs an empty workspace registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:      make(map[string]*room),
		bufferSize: defaultSendBuffer,
	}
}

func (r *Registry) add(workspaceID, userEmail string) *Subscriber {
	subscriber := &Subscriber{
		id:          r.nextID.Add(1),
		workspaceID: workspaceID,
		userEmail:   userEmail,
		stream:      make(chan Event, r.bufferSize),
		done:        make(chan struct{}),
	}

	// The insert happens while the registry lock is still held: if the
	// room pointer were released first, a concurrent remove could see
	// the room empty and delete it, stranding this subscriber in an
	// orphaned room that fan-out can no longer reach.
	r.mu.Lock()
	current, ok := r.rooms[workspaceID]
	if !ok {
		current = &room{subscribers: make(map[int64]*Subscriber)}
		r.rooms[workspaceID] = current
	}
	current.mu.Lock()
	current.subscribers[subscriber.id] = subscriber
	current.mu.Unlock()
	r.mu.Unlock()

	return subscriber
}

// remove detaches the subscriber from its room and reports whether it
// was still registered, making leave idempotent for callers. Emptied
// rooms are deleted under the registry lock, mutually exclusive with
// add's insert.
func (r *Registry) remove(subscriber *Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.rooms[subscriber.workspaceID]
	if current == nil {
		return false
	}

	current.mu.Lock()
	_, present := current.subscribers[subscriber.id]
	delete(current.subscribers, subscriber.id)
	empty := len(current.subscribers) == 0
	current.mu.Unlock()

	if empty {
		delete(r.rooms, subscriber.workspaceID)
	}

	return present
}

// subscribers returns a point-in-time copy of the workspace's
// subscriber set so fan-out never holds the room lock while sending.
func (r *Registry) subscribers(workspaceID string) []*Subscriber {
	r.mu.RLock()
	current := r.rooms[workspaceID]
	r.mu.RUnlock()
	if current == nil {
		return nil
	}

	current.mu.RLock()
	copies := make([]*Subscriber, 0, len(current.subscribers))
	for _, subscriber := range current.subscribers {
		copies = append(copies, subscriber)
	}
	current.mu.RUnlock()
	return copies
}

// Count reports the number of live subscribers in a workspace.
func (r *Registry) Count(workspaceID string) int {
	r.mu.RLock()
	current := r.rooms[workspaceID]
	r.mu.RUnlock()
	if current == nil {
		return 0
	}
	current.mu.RLock()
	defer current.mu.RUnlock()
	return len(current.subscribers)
}
