package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"rentline/pkg/logger"
)

// Events pushed to connected sessions. Delivery is fire-and-forget: a failed
// or slow session is dropped, never the triggering operation.
const (
	EventMessage      = "message"
	EventMessagesRead = "messages_read"
	EventChatActivity = "chat_activity"
	EventPong         = "pong"
	EventError        = "error"
)

type Event struct {
	Type      string      `json:"type"`
	ChatID    string      `json:"chat_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// MembershipChecker decides whether a user may join a thread room. The chat
// service implements it; the manager never reads storage itself.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, threadID, userID string) (bool, error)
}

// Manager is the session registry for realtime delivery. It tracks every
// connection by id, groups connections per user (the inbox channel) and per
// thread room, and tears all of that down when a connection goes away.
type Manager struct {
	mu         sync.RWMutex
	clients    map[string]*Client            // connection id -> client
	users      map[string]map[string]*Client // user id -> connection id -> client
	rooms      map[string]map[string]*Client // thread id -> connection id -> client
	membership MembershipChecker
	sendBuffer int
}

func NewManager(sendBuffer int) *Manager {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Manager{
		clients:    make(map[string]*Client),
		users:      make(map[string]map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		sendBuffer: sendBuffer,
	}
}

// SetMembershipChecker wires the room-join guard. Done after construction
// because the chat service and the manager reference each other.
func (m *Manager) SetMembershipChecker(checker MembershipChecker) {
	m.membership = checker
}

func (m *Manager) Register(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[client.ID] = client
	if m.users[client.UserID] == nil {
		m.users[client.UserID] = make(map[string]*Client)
	}
	m.users[client.UserID][client.ID] = client

	logger.Info("Websocket session %s registered for user %s", client.ID, client.UserID)
}

// Unregister removes the connection from the registry, from its user's inbox
// set and from every room it joined.
func (m *Manager) Unregister(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return
	}
	delete(m.clients, client.ID)

	if conns := m.users[client.UserID]; conns != nil {
		delete(conns, client.ID)
		if len(conns) == 0 {
			delete(m.users, client.UserID)
		}
	}

	for threadID := range client.rooms {
		room := m.rooms[threadID]
		if room == nil {
			continue
		}
		delete(room, client.ID)
		if len(room) == 0 {
			delete(m.rooms, threadID)
		}
	}
	client.rooms = make(map[string]struct{})
	client.closeSend()

	logger.Info("Websocket session %s unregistered for user %s", client.ID, client.UserID)
}

// JoinRoom subscribes the connection to a thread room. Non-participants are
// refused.
func (m *Manager) JoinRoom(ctx context.Context, client *Client, threadID string) error {
	if m.membership != nil {
		ok, err := m.membership.IsParticipant(ctx, threadID, client.UserID)
		if err != nil {
			return err
		}
		if !ok {
			logger.Warn("User %s refused for room %s: not a participant", client.UserID, threadID)
			return nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return nil
	}
	room := m.rooms[threadID]
	if room == nil {
		room = make(map[string]*Client)
		m.rooms[threadID] = room
	}
	room[client.ID] = client
	client.rooms[threadID] = struct{}{}

	return nil
}

func (m *Manager) LeaveRoom(client *Client, threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.rooms[threadID]
	if room != nil {
		delete(room, client.ID)
		if len(room) == 0 {
			delete(m.rooms, threadID)
		}
	}
	delete(client.rooms, threadID)
}

// EmitToThread pushes an event to every session currently inside the thread
// room.
func (m *Manager) EmitToThread(threadID, event string, payload interface{}) {
	frame, err := marshalEvent(event, threadID, payload)
	if err != nil {
		logger.Error("Failed to marshal %s event for thread %s: %v", event, threadID, err)
		return
	}

	m.mu.RLock()
	for _, client := range m.rooms[threadID] {
		m.deliver(client, frame)
	}
	m.mu.RUnlock()
}

// EmitToUser pushes an event to every session of one user, regardless of
// which thread (if any) those sessions are viewing.
func (m *Manager) EmitToUser(userID, event string, payload interface{}) {
	frame, err := marshalEvent(event, "", payload)
	if err != nil {
		logger.Error("Failed to marshal %s event for user %s: %v", event, userID, err)
		return
	}

	m.mu.RLock()
	for _, client := range m.users[userID] {
		m.deliver(client, frame)
	}
	m.mu.RUnlock()
}

// deliver is non-blocking: a session whose buffer is full is dropped so a
// slow consumer can never stall the emitter.
func (m *Manager) deliver(client *Client, frame []byte) {
	if !client.trySend(frame) {
		logger.Warn("Dropping slow websocket session %s (user %s)", client.ID, client.UserID)
		go m.Unregister(client)
	}
}

func (m *Manager) sessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func marshalEvent(event, threadID string, payload interface{}) ([]byte, error) {
	return json.Marshal(Event{
		Type:      event,
		ChatID:    threadID,
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
