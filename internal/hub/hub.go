package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/corkboardhq/corkboard/internal/canvas"
	"github.com/corkboardhq/corkboard/internal/notes"
	"github.com/corkboardhq/corkboard/internal/presence"
	"github.com/corkboardhq/corkboard/internal/reactions"
)

// redisChannel carries events between horizontally scaled instances.
const redisChannel = "corkboard.events"

var (
	errMissingNotes     = errors.New("note lister dependency required")
	errMissingReactions = errors.New("reaction summarizer dependency required")
	errMissingPresence  = errors.New("presence store dependency required")
	noOpLogger          = zap.NewNop()
)

// NoteLister supplies the note state for join snapshots.
type NoteLister interface {
	ListByWorkspace(ctx context.Context, workspaceID canvas.WorkspaceID) ([]notes.Note, error)
}

// ReactionSummarizer supplies reaction summaries for join snapshots.
type ReactionSummarizer interface {
	SummarizeWorkspace(ctx context.Context, workspaceID canvas.WorkspaceID, requestingUser canvas.UserEmail) (map[string][]reactions.Summary, error)
}

// PresenceStore is the slice of the presence tracker the hub drives on
// join and leave.
type PresenceStore interface {
	SetOnline(userEmail canvas.UserEmail, workspaceID canvas.WorkspaceID, online bool)
	Evict(userEmail canvas.UserEmail, workspaceID canvas.WorkspaceID)
	Snapshot(workspaceID canvas.WorkspaceID) []presence.Record
}

// Snapshot is the catch-up state sent to a subscriber on join: a late
// joiner reaches parity without replaying history.
type Snapshot struct {
	Notes     []notes.Note                   `json:"notes"`
	Reactions map[string][]reactions.Summary `json:"reactions"`
	Presence  []presence.Record              `json:"presence"`
}

// Config describes the hub's dependencies.
type Config struct {
	Registry  *Registry
	Notes     NoteLister
	Reactions ReactionSummarizer
	Presence  PresenceStore
	// Redis, when set, bridges events across process instances via
	// pub/sub. Presence snapshots stay process-local; without Redis,
	// clients must be sticky to one instance.
	Redis  *redis.Client
	Logger *zap.Logger
	Clock  func() time.Time
}

// Hub orchestrates subscriber lifecycle and per-workspace event
// fan-out. Mutation callers publish their outcome events here after a
// successful write; the hub never sees failed mutations.
type Hub struct {
	registry   *Registry
	notes      NoteLister
	summary    ReactionSummarizer
	presence   PresenceStore
	rdb        *redis.Client
	instanceID string
	logger     *zap.Logger
	clock      func() time.Time
}

// bridgeEnvelope wraps an event on the Redis channel. The instance id
// lets each instance skip its own publications, which it has already
// delivered locally.
type bridgeEnvelope struct {
	InstanceID string `json:"instanceId"`
	Event      Event  `json:"event"`
}

// New constructs the hub.
func New(cfg Config) (*Hub, error) {
	if cfg.Notes == nil {
		return nil, errMissingNotes
	}
	if cfg.Reactions == nil {
		return nil, errMissingReactions
	}
	if cfg.Presence == nil {
		return nil, errMissingPresence
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Hub{
		registry:   registry,
		notes:      cfg.Notes,
		summary:    cfg.Reactions,
		presence:   cfg.Presence,
		rdb:        cfg.Redis,
		instanceID: uuid.NewString(),
		logger:     logger,
		clock:      clock,
	}, nil
}

// Join registers a subscriber in the workspace, marks the user online,
// and returns the catch-up snapshot. The presence-changed event goes to
// the other subscribers only.
func (h *Hub) Join(ctx context.Context, workspaceID canvas.WorkspaceID, userEmail canvas.UserEmail) (*Subscriber, Snapshot, error) {
	workspaceNotes, err := h.notes.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, Snapshot{}, err
	}
	summaries, err := h.summary.SummarizeWorkspace(ctx, workspaceID, userEmail)
	if err != nil {
		return nil, Snapshot{}, err
	}

	h.presence.SetOnline(userEmail, workspaceID, true)

	subscriber := h.registry.add(workspaceID.String(), userEmail.String())
	snapshot := Snapshot{
		Notes:     workspaceNotes,
		Reactions: summaries,
		Presence:  h.presence.Snapshot(workspaceID),
	}

	h.Publish(Event{
		Kind:        EventPresenceChanged,
		WorkspaceID: workspaceID.String(),
		Origin:      subscriber.id,
		Payload:     PresencePayload{UserEmail: userEmail.String(), Online: true},
	})

	return subscriber, snapshot, nil
}

// Leave detaches the subscriber, marks the user offline, evicts the
// cursor, and tells the remaining subscribers. Leaving an already-left
// subscriber is a no-op.
func (h *Hub) Leave(subscriber *Subscriber) {
	if subscriber == nil {
		return
	}

	removed := h.registry.remove(subscriber)
	subscriber.signalClosed()
	if !removed {
		return
	}

	userEmail, emailErr := canvas.NewUserEmail(subscriber.userEmail)
	workspaceID, workspaceErr := canvas.NewWorkspaceID(subscriber.workspaceID)
	if emailErr != nil || workspaceErr != nil {
		return
	}

	h.presence.SetOnline(userEmail, workspaceID, false)
	h.presence.Evict(userEmail, workspaceID)

	h.Publish(Event{
		Kind:        EventPresenceChanged,
		WorkspaceID: workspaceID.String(),
		Origin:      subscriber.id,
		Payload:     PresencePayload{UserEmail: userEmail.String(), Online: false},
	})
}

// Publish fans the event out to the workspace's subscribers and, when
// bridged, to the other instances. Callers publish only after a
// successful mutation.
func (h *Hub) Publish(event Event) {
	if event.Kind == "" || event.WorkspaceID == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.clock().UTC()
	}

	h.deliverLocal(event)

	if h.rdb != nil {
		encoded, err := json.Marshal(bridgeEnvelope{InstanceID: h.instanceID, Event: event})
		if err != nil {
			h.logger.Warn("event bridge encode failed", zap.Error(err), zap.String("kind", event.Kind))
			return
		}
		if err := h.rdb.Publish(context.Background(), redisChannel, encoded).Err(); err != nil {
			h.logger.Warn("event bridge publish failed", zap.Error(err), zap.String("kind", event.Kind))
		}
	}
}

// deliverLocal pushes to each subscriber without blocking. A subscriber
// whose buffer is full has stopped draining; it is detached so the
// fan-out to everyone else never stalls.
func (h *Hub) deliverLocal(event Event) {
	for _, subscriber := range h.registry.subscribers(event.WorkspaceID) {
		if suppressEcho[event.Kind] && event.Origin != 0 && subscriber.id == event.Origin {
			continue
		}
		select {
		case subscriber.stream <- event:
		default:
			h.registry.remove(subscriber)
			subscriber.signalClosed()
			h.logger.Warn("slow subscriber dropped",
				zap.String("workspace_id", subscriber.workspaceID),
				zap.String("user_email", subscriber.userEmail))
		}
	}
}

// Run bridges events from other instances until the context ends. It
// returns immediately when no Redis client is configured.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}

	pubsub := h.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	channel := pubsub.Channel()
	for {
		select {
		case message, ok := <-channel:
			if !ok {
				return
			}
			var envelope bridgeEnvelope
			if err := json.Unmarshal([]byte(message.Payload), &envelope); err != nil {
				h.logger.Warn("event bridge decode failed", zap.Error(err))
				continue
			}
			if envelope.InstanceID == h.instanceID {
				continue
			}
			// Local delivery only: re-publishing would loop the bridge.
			h.deliverLocal(envelope.Event)
		case <-ctx.Done():
			return
		}
	}
}
