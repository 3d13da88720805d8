package presence

import (
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/corkboardhq/corkboard/internal/canvas"
)

const defaultTTL = 45 * time.Second

// Record is the ephemeral per-user, per-workspace liveness state.
// Last write wins; there is no version or conflict concept.
type Record struct {
	UserEmail       string           `json:"userEmail"`
	WorkspaceID     string           `json:"workspaceId"`
	Online          bool             `json:"online"`
	LastSeenSeconds int64            `json:"lastSeenS"`
	Cursor          *canvas.Position `json:"cursor,omitempty"`
}

// TrackerConfig describes tracker construction parameters.
type TrackerConfig struct {
	// TTL bounds how long a silent user's record lingers before the
	// cache janitor evicts it.
	TTL   time.Duration
	Clock func() time.Time
}

// Tracker owns ephemeral presence and cursor state. State is scoped to
// the running process; it is rebuilt from client reports after a
// restart and never persisted.
type Tracker struct {
	mu         sync.RWMutex
	workspaces map[string]*gocache.Cache
	ttl        time.Duration
	clock      func() time.Time
}

// NewTracker constructs a presence tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		workspaces: make(map[string]*gocache.Cache),
		ttl:        ttl,
		clock:      clock,
	}
}

// ReportCursor upserts the user's live cursor position. A cursor report
// implies the user is online and refreshes the record's TTL.
func (t *Tracker) ReportCursor(userEmail canvas.UserEmail, workspaceID canvas.WorkspaceID, position canvas.Position) error {
	validated, err := canvas.NewPosition(position.X, position.Y)
	if err != nil {
		return err
	}

	t.upsert(userEmail, workspaceID, func(record *Record) {
		record.Online = true
		record.Cursor = &validated
	})
	return nil
}

// SetOnline upserts the user's online flag and last-seen timestamp,
// preserving any known cursor.
func (t *Tracker) SetOnline(userEmail canvas.UserEmail, workspaceID canvas.WorkspaceID, online bool) {
	t.upsert(userEmail, workspaceID, func(record *Record) {
		record.Online = online
	})
}

// upsert applies the mutation under the tracker lock. Resolving the
// workspace cache and writing into it must be one atomic step: a
// concurrent Evict that empties the workspace deletes the cache from
// the map, and a write into that orphaned cache would be lost.
func (t *Tracker) upsert(userEmail canvas.UserEmail, workspaceID canvas.WorkspaceID, mutate func(*Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	store, ok := t.workspaces[workspaceID.String()]
	if !ok {
		store = gocache.New(t.ttl, t.ttl)
		t.workspaces[workspaceID.String()] = store
	}

	record := t.load(store, userEmail.String())
	record.UserEmail = userEmail.String()
	record.WorkspaceID = workspaceID.String()
	record.LastSeenSeconds = t.clock().UTC().Unix()
	mutate(&record)
	store.Set(userEmail.String(), record, gocache.DefaultExpiration)
}

// Snapshot returns the current live records for the workspace, ordered
// by user email, for initializing a newly joined subscriber.
func (t *Tracker) Snapshot(workspaceID canvas.WorkspaceID) []Record {
	t.mu.RLock()
	store := t.workspaces[workspaceID.String()]
	t.mu.RUnlock()
	if store == nil {
		return nil
	}

	items := store.Items()
	records := make([]Record, 0, len(items))
	for _, item := range items {
		record, ok := item.Object.(Record)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UserEmail < records[j].UserEmail
	})
	return records
}

// Evict drops the user's record so stale cursors do not linger for
// future joiners. Called on disconnect; TTL expiry covers the rest.
// Emptied workspace caches are unmapped under the same lock the
// writers hold, so an in-flight upsert can never land in an orphan.
func (t *Tracker) Evict(userEmail canvas.UserEmail, workspaceID canvas.WorkspaceID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	store, ok := t.workspaces[workspaceID.String()]
	if !ok {
		return
	}
	store.Delete(userEmail.String())

	if store.ItemCount() == 0 {
		delete(t.workspaces, workspaceID.String())
	}
}

func (t *Tracker) load(store *gocache.Cache, userEmail string) Record {
	if raw, ok := store.Get(userEmail); ok {
		if record, ok := raw.(Record); ok {
			return record
		}
	}
	return Record{}
}
