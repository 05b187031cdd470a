package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/model"
)

// Conn is the subset of a websocket connection the hub writes to
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// Client is one connected observer
type Client struct {
	ID   string
	conn Conn

	// writeMu serialises frames on conn
	writeMu sync.Mutex

	// prefs is guarded by Hub.mu
	prefs Preferences
}

// Hub keeps the set of observers and fans events out to them.
// mu guards the registry and preferences only; socket writes happen outside it
// under each client's own writeMu.
type Hub struct {
	clients      map[*Client]struct{}
	mu           sync.RWMutex
	writeTimeout time.Duration
	log          zerolog.Logger
}

// NewHub creates a new Hub. A zero writeTimeout disables write deadlines.
func NewHub(writeTimeout time.Duration, log zerolog.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]struct{}),
		writeTimeout: writeTimeout,
		log:          log,
	}
}

// Connect registers conn with default preferences
func (h *Hub) Connect(conn Conn) *Client {
	client := &Client{
		ID:    uuid.New().String(),
		conn:  conn,
		prefs: DefaultPreferences(),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("client_id", client.ID).Int("observers", count).Msg("observer connected")
	return client
}

// Disconnect removes client. Removing an unknown client is a no-op.
func (h *Hub) Disconnect(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if ok {
		h.log.Debug().Str("client_id", client.ID).Int("observers", h.Count()).Msg("observer disconnected")
	}
}

// Preferences returns the current preferences of client
func (h *Hub) Preferences(client *Client) Preferences {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.prefs
}

// UpdatePreferences merges patch into the preferences of client
func (h *Hub) UpdatePreferences(client *Client, patch PreferencesPatch) Preferences {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.prefs = client.prefs.Apply(patch)
	return client.prefs
}

// Count returns the number of connected observers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers event to every observer whose preferences allow it.
// Observers whose write fails are removed after the fan-out.
func (h *Hub) Broadcast(event model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("type", event.Type).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.prefs.Allows(event.Type) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	var dead []*Client
	for _, client := range targets {
		if err := h.write(client, websocket.TextMessage, data); err != nil {
			dead = append(dead, client)
		}
	}

	if len(dead) == 0 {
		return
	}

	h.mu.Lock()
	for _, client := range dead {
		delete(h.clients, client)
	}
	h.mu.Unlock()

	h.log.Debug().Int("removed", len(dead)).Str("type", event.Type).Msg("dropped unreachable observers")
}

// Send writes event to a single observer regardless of its preferences
func (h *Hub) Send(client *Client, event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return h.write(client, websocket.TextMessage, data)
}

// Ping writes a keep-alive control frame
func (h *Hub) Ping(client *Client) error {
	return h.write(client, websocket.PingMessage, nil)
}

func (h *Hub) write(client *Client, messageType int, data []byte) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	if h.writeTimeout > 0 {
		if err := client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return err
		}
	}
	return client.conn.WriteMessage(messageType, data)
}
