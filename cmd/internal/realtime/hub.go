package realtime

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	v1 "github.com/PedroAbreu017/Help-Desk-System-sub001/shared/contracts/notify/v1"
)

// Hub is the in-memory fan-out registry: which connections belong to which
// user, and which ticket rooms each connection has joined. Delivery is
// fire-and-forget; there is no queuing or persistence, a target with no live
// connection simply receives nothing.
type Hub struct {
	log *slog.Logger

	mu sync.RWMutex
	// byUser maps userID -> connectionID -> conn.
	byUser map[string]map[string]*Conn
	// rooms maps roomID -> connectionID -> conn. Membership is scoped to the
	// connection, not the user.
	rooms map[string]map[string]*Conn
	// connRooms maps connectionID -> joined room IDs, for unregister cleanup.
	connRooms map[string]map[string]struct{}
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:       log,
		byUser:    make(map[string]map[string]*Conn),
		rooms:     make(map[string]map[string]*Conn),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Register adds an authenticated connection to its user's set and pushes a
// fresh stats snapshot to everyone.
func (h *Hub) Register(conn *Conn) {
	if conn == nil || conn.ConnectionID == "" || conn.UserID == "" {
		return
	}

	h.mu.Lock()
	set, ok := h.byUser[conn.UserID]
	if !ok {
		set = make(map[string]*Conn)
		h.byUser[conn.UserID] = set
		metricIdentities.Inc()
	}
	set[conn.ConnectionID] = conn
	metricConnections.Inc()
	h.pushStatsLocked()
	h.mu.Unlock()

	h.log.Info("hub.register", "connection_id", conn.ConnectionID, "user_id", conn.UserID)
}

// Unregister removes the connection, all of its room memberships, and pushes
// a stats snapshot. The last connection of a user takes the user offline.
func (h *Hub) Unregister(conn *Conn) {
	if conn == nil {
		return
	}

	h.mu.Lock()
	if set, ok := h.byUser[conn.UserID]; ok {
		delete(set, conn.ConnectionID)
		if len(set) == 0 {
			delete(h.byUser, conn.UserID)
			metricIdentities.Dec()
		}
		metricConnections.Dec()
	}
	for roomID := range h.connRooms[conn.ConnectionID] {
		h.leaveRoomLocked(roomID, conn.ConnectionID)
	}
	delete(h.connRooms, conn.ConnectionID)
	h.pushStatsLocked()
	h.mu.Unlock()

	h.log.Info("hub.unregister", "connection_id", conn.ConnectionID, "user_id", conn.UserID)
}

// JoinRoom adds the connection to a room. Idempotent.
func (h *Hub) JoinRoom(roomID string, conn *Conn) {
	if roomID == "" || conn == nil || conn.ConnectionID == "" {
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[string]*Conn)
		h.rooms[roomID] = room
	}
	room[conn.ConnectionID] = conn

	joined, ok := h.connRooms[conn.ConnectionID]
	if !ok {
		joined = make(map[string]struct{})
		h.connRooms[conn.ConnectionID] = joined
	}
	joined[roomID] = struct{}{}
	h.mu.Unlock()

	h.log.Info("hub.room.join", "room_id", roomID, "connection_id", conn.ConnectionID)
}

// LeaveRoom removes the connection from a room. Idempotent.
func (h *Hub) LeaveRoom(roomID string, conn *Conn) {
	if roomID == "" || conn == nil {
		return
	}

	h.mu.Lock()
	h.leaveRoomLocked(roomID, conn.ConnectionID)
	if joined, ok := h.connRooms[conn.ConnectionID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(h.connRooms, conn.ConnectionID)
		}
	}
	h.mu.Unlock()

	h.log.Info("hub.room.leave", "room_id", roomID, "connection_id", conn.ConnectionID)
}

func (h *Hub) leaveRoomLocked(roomID, connectionID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(room, connectionID)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
}

// Notify delivers msg to every connection of one user.
func (h *Hub) Notify(userID string, msg v1.Message) {
	env, err := notificationEnvelope(msg)
	if err != nil {
		h.log.Error("hub.notify.encode.fail", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.byUser[userID] {
		h.deliver(conn, env)
	}
}

// NotifyRoom delivers msg to every connection currently joined to the room.
func (h *Hub) NotifyRoom(roomID string, msg v1.Message) {
	env, err := notificationEnvelope(msg)
	if err != nil {
		h.log.Error("hub.notify.encode.fail", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.rooms[roomID] {
		h.deliver(conn, env)
	}
}

// Broadcast delivers msg to every registered connection.
func (h *Hub) Broadcast(msg v1.Message) {
	env, err := notificationEnvelope(msg)
	if err != nil {
		h.log.Error("hub.notify.encode.fail", "err", err)
		return
	}
	h.broadcastEnvelope(env)
}

// Dispatch routes msg according to its target scope.
func (h *Hub) Dispatch(msg v1.Message) {
	switch msg.Scope.Kind {
	case v1.ScopeUser:
		h.Notify(msg.Scope.TargetID, msg)
	case v1.ScopeRoom:
		h.NotifyRoom(msg.Scope.TargetID, msg)
	case v1.ScopeBroadcast:
		h.Broadcast(msg)
	default:
		h.log.Warn("hub.dispatch.unknown_scope", "scope", string(msg.Scope.Kind))
	}
}

// Stats returns a snapshot of the connected-user registry.
func (h *Hub) Stats() v1.UserStatsPayload {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statsLocked()
}

func (h *Hub) statsLocked() v1.UserStatsPayload {
	ids := make([]string, 0, len(h.byUser))
	for userID := range h.byUser {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return v1.UserStatsPayload{
		ConnectedUserCount: len(ids),
		ConnectedUserIDs:   ids,
	}
}

// pushStatsLocked fans the current snapshot out to every connection. It runs
// under h.mu so snapshots queue in the same order as the membership changes
// that produced them; the last snapshot a connection sees is always current.
func (h *Hub) pushStatsLocked() {
	payload, err := json.Marshal(h.statsLocked())
	if err != nil {
		return
	}
	env := newEnvelope(v1.TypeUserStats, payload, time.Now().UTC())
	for _, set := range h.byUser {
		for _, conn := range set {
			h.deliver(conn, env)
		}
	}
}

func (h *Hub) broadcastEnvelope(env v1.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.byUser {
		for _, conn := range set {
			h.deliver(conn, env)
		}
	}
}

// deliver is non-blocking. A closing connection or full queue is skipped so
// one dead target never stalls fan-out to the rest.
func (h *Hub) deliver(conn *Conn, env v1.Envelope) {
	if conn == nil {
		return
	}

	select {
	case <-conn.Done():
		metricDropped.Inc()
		return
	default:
	}

	select {
	case conn.Send <- env:
		metricDelivered.Inc()
	default:
		metricDropped.Inc()
		h.log.Warn("hub.deliver.drop", "connection_id", conn.ConnectionID, "type", env.Type)
	}
}

func notificationEnvelope(msg v1.Message) (v1.Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return v1.Envelope{}, err
	}
	return newEnvelope(v1.TypeNotification, payload, time.Now().UTC()), nil
}
