package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/model"
)

// ObserverConn is a bidirectional observer connection
type ObserverConn interface {
	Conn
	ReadMessage() (messageType int, p []byte, err error)
}

// SnapshotSource provides the initial state pushed to new observers
type SnapshotSource interface {
	ListJobs(ctx context.Context, limit int) ([]*model.Job, error)
	ListAssets(ctx context.Context, limit int) ([]*model.Asset, error)
}

// Handler runs the lifecycle of one observer connection
type Handler struct {
	hub           *Hub
	source        SnapshotSource
	snapshotLimit int
	pingInterval  time.Duration
	log           zerolog.Logger
}

func NewHandler(hub *Hub, source SnapshotSource, snapshotLimit int, pingInterval time.Duration, log zerolog.Logger) *Handler {
	if snapshotLimit <= 0 {
		snapshotLimit = 200
	}
	return &Handler{
		hub:           hub,
		source:        source,
		snapshotLimit: snapshotLimit,
		pingInterval:  pingInterval,
		log:           log,
	}
}

// Serve registers the connection, pushes hello and the snapshots its
// preferences allow, then reads prefs/ping messages until the peer goes away.
func (h *Handler) Serve(conn ObserverConn) {
	client := h.hub.Connect(conn)
	defer h.hub.Disconnect(client)

	if err := h.hub.Send(client, model.Event{Type: model.WSMessageTypeHello, Payload: map[string]any{"ok": true}}); err != nil {
		return
	}
	if err := h.sendSnapshots(client); err != nil {
		h.log.Debug().Err(err).Str("client_id", client.ID).Msg("failed to send snapshots")
		return
	}

	done := make(chan struct{})
	defer close(done)
	if h.pingInterval > 0 {
		go h.keepAlive(client, done)
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("client_id", client.ID).Msg("websocket read error")
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case model.WSMessageTypePrefs:
			var patch PreferencesPatch
			if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &patch) != nil {
				continue
			}
			h.hub.UpdatePreferences(client, patch)
		case model.WSMessageTypePing:
			if err := h.hub.Send(client, model.Event{Type: model.WSMessageTypePong}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sendSnapshots(client *Client) error {
	ctx := context.Background()
	prefs := h.hub.Preferences(client)

	if prefs.Jobs {
		jobs, err := h.source.ListJobs(ctx, h.snapshotLimit)
		if err != nil {
			return err
		}
		if err := h.hub.Send(client, model.Event{Type: model.WSMessageTypeJobsSnapshot, Payload: jobs}); err != nil {
			return err
		}
	}

	if prefs.Assets {
		assets, err := h.source.ListAssets(ctx, h.snapshotLimit)
		if err != nil {
			return err
		}
		if err := h.hub.Send(client, model.Event{Type: model.WSMessageTypeAssetsSnapshot, Payload: assets}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) keepAlive(client *Client, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := h.hub.Ping(client); err != nil {
				return
			}
		}
	}
}
