package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/gencockpit/api/internal/model"
)

// ErrMalformedFrame marks a text frame that is not a structured event
var ErrMalformedFrame = errors.New("malformed engine frame")

// StreamURL converts the engine HTTP root into its websocket endpoint
func StreamURL(baseURL, clientID string) string {
	wsURL := baseURL
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		wsURL = "ws://" + baseURL
	}
	return fmt.Sprintf("%s/ws?clientId=%s", strings.TrimRight(wsURL, "/"), url.QueryEscape(clientID))
}

// StreamEvents dials the engine event stream. The connection is closed when
// ctx is cancelled or Close is called.
func (c *ComfyClient) StreamEvents(ctx context.Context, clientID string) (EventStream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, StreamURL(c.baseURL, clientID), nil)
	if err != nil {
		return nil, fmt.Errorf("dial engine stream: %w", err)
	}

	s := &comfyStream{conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type comfyStream struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

type wireFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireData struct {
	PromptID json.RawMessage `json:"prompt_id"`
	Node     json.RawMessage `json:"node"`
	Value    float64         `json:"value"`
	Max      float64         `json:"max"`
}

func (s *comfyStream) Next() (model.UpstreamEvent, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return model.UpstreamEvent{}, err
		}
		if messageType != websocket.TextMessage {
			// preview images and other binary payloads
			continue
		}
		return DecodeEvent(data)
	}
}

func (s *comfyStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// DecodeEvent parses one text frame of the engine stream
func DecodeEvent(frame []byte) (model.UpstreamEvent, error) {
	var wire wireFrame
	if err := json.Unmarshal(frame, &wire); err != nil {
		return model.UpstreamEvent{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	event := model.UpstreamEvent{Type: wire.Type, Data: wire.Data}
	if len(wire.Data) == 0 || bytes.Equal(wire.Data, []byte("null")) {
		return event, nil
	}

	var data wireData
	if err := json.Unmarshal(wire.Data, &data); err != nil {
		// non-object data; nothing to correlate
		return event, nil
	}
	event.PromptID = rawScalar(data.PromptID)
	if node := rawScalar(data.Node); node != "" {
		event.Node = &node
	}
	event.Value = data.Value
	event.Max = data.Max
	return event, nil
}

// rawScalar renders a JSON string or number as text; null and absent yield ""
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
