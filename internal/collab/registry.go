package collab

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"thinknet-backend/internal/infrastructure/observability"
)

// Member is a live session as seen by the registry.
type Member interface {
	// SessionID is stable for the lifetime of the connection.
	SessionID() string
	UserID() string
	Username() string
	// Send enqueues ev without blocking and reports whether it was accepted.
	// It is called with room locks held and must not call back into the
	// registry.
	Send(ev Event) bool
}

func presenceOf(m Member) Presence {
	return Presence{ID: m.UserID(), Username: m.Username()}
}

type room struct {
	mu      sync.RWMutex
	members map[string]Member // by session id
}

// hasUser reports whether a session of userID other than except is present.
func (r *room) hasUser(userID, except string) bool {
	for sid, m := range r.members {
		if sid != except && m.UserID() == userID {
			return true
		}
	}
	return false
}

// presence lists members deduplicated by user id, skipping except.
func (r *room) presence(except string) []Presence {
	seen := make(map[string]bool, len(r.members))
	out := make([]Presence, 0, len(r.members))
	for sid, m := range r.members {
		if sid == except || seen[m.UserID()] {
			continue
		}
		seen[m.UserID()] = true
		out = append(out, presenceOf(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *room) deliver(ev Event, exclude string) {
	for sid, m := range r.members {
		if sid == exclude {
			continue
		}
		m.Send(ev)
	}
}

// RoomRegistry tracks which sessions are in which document room.
//
// Lock order is registry.mu before room.mu. Deliveries happen while holding
// the room lock, so once Leave returns the session receives nothing more
// from that room.
type RoomRegistry struct {
	mu       sync.Mutex
	rooms    map[string]*room  // by document id
	sessions map[string]string // session id -> document id

	logger  *zap.Logger
	metrics *observability.Collector
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry(logger *zap.Logger, metrics *observability.Collector) *RoomRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomRegistry{
		rooms:    make(map[string]*room),
		sessions: make(map[string]string),
		logger:   logger,
		metrics:  metrics,
	}
}

// Join adds m to the room of documentID and returns the other members. The
// greet callback, when non-nil, runs before any other room traffic can reach
// m. Other members are told with user_joined unless the user was already
// present through another session.
//
// A session occupies at most one room; callers leave the previous room first.
func (r *RoomRegistry) Join(m Member, documentID string, greet func(others []Presence)) []Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[documentID]
	if !ok {
		rm = &room{members: make(map[string]Member)}
		r.rooms[documentID] = rm
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	sid := m.SessionID()
	alreadyPresent := rm.hasUser(m.UserID(), sid)
	rm.members[sid] = m
	r.sessions[sid] = documentID

	others := rm.presence(sid)
	if greet != nil {
		greet(others)
	}
	if !alreadyPresent {
		rm.deliver(Event{Name: EventUserJoined, Data: presenceOf(m)}, sid)
	}

	r.logger.Info("Session joined room",
		zap.String("mindmapID", documentID),
		zap.String("connectionID", sid),
		zap.String("userID", m.UserID()),
		zap.Int("members", len(rm.members)),
	)
	r.metrics.SetRoomStats(len(r.rooms), len(r.sessions))
	return others
}

// Leave removes the session from its room. It returns the document id and
// whether the session was in a room. Calling it again, or for a session that
// never joined, is a no-op.
func (r *RoomRegistry) Leave(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	documentID, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	delete(r.sessions, sessionID)

	rm := r.rooms[documentID]
	rm.mu.Lock()
	m := rm.members[sessionID]
	delete(rm.members, sessionID)
	empty := len(rm.members) == 0
	if !empty && m != nil && !rm.hasUser(m.UserID(), "") {
		rm.deliver(Event{Name: EventUserLeft, Data: presenceOf(m)}, "")
	}
	rm.mu.Unlock()

	if empty {
		delete(r.rooms, documentID)
	}

	r.logger.Info("Session left room",
		zap.String("mindmapID", documentID),
		zap.String("connectionID", sessionID),
		zap.Bool("roomClosed", empty),
	)
	r.metrics.SetRoomStats(len(r.rooms), len(r.sessions))
	return documentID, true
}

// Broadcast delivers ev to every member of the room except excludeSessionID.
// Delivery is at most once: a member whose buffer is full misses the event.
func (r *RoomRegistry) Broadcast(documentID, excludeSessionID string, ev Event) {
	r.mu.Lock()
	rm, ok := r.rooms[documentID]
	if !ok {
		r.mu.Unlock()
		return
	}
	rm.mu.RLock()
	r.mu.Unlock()

	defer rm.mu.RUnlock()
	rm.deliver(ev, excludeSessionID)
}

// RoomOf returns the document the session is in.
func (r *RoomRegistry) RoomOf(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	documentID, ok := r.sessions[sessionID]
	return documentID, ok
}

// Members returns the users present in a room.
func (r *RoomRegistry) Members(documentID string) []Presence {
	r.mu.Lock()
	rm, ok := r.rooms[documentID]
	if !ok {
		r.mu.Unlock()
		return []Presence{}
	}
	rm.mu.RLock()
	r.mu.Unlock()

	defer rm.mu.RUnlock()
	return rm.presence("")
}

// RoomCount returns the number of open rooms.
func (r *RoomRegistry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// SessionCount returns the number of sessions in any room.
func (r *RoomRegistry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
