package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/logging"
)

type EventType string

const (
	EventTrackSubscribed   EventType = "track_subscribed"
	EventTrackUnsubscribed EventType = "track_unsubscribed"
	EventActiveSpeakers    EventType = "active_speakers"
	EventDisconnected      EventType = "disconnected"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Event is one message from the room signaling channel.
type Event struct {
	Type        EventType `json:"type"`
	TrackSID    string    `json:"trackSid,omitempty"`
	Kind        TrackKind `json:"kind,omitempty"`
	Participant string    `json:"participant,omitempty"`
	Speakers    []string  `json:"speakers,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Transport is the signaling connection to a realtime room.
type Transport interface {
	Connect(ctx context.Context, wsURL, token string) error
	Events() <-chan Event
	PublishMicrophone(ctx context.Context) error
	Close() error
}

// WSTransport speaks a JSON event protocol over a websocket.
type WSTransport struct {
	dialer websocket.Dialer
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Event
	once   sync.Once
}

func NewWSTransport(logger *slog.Logger) *WSTransport {
	return &WSTransport{
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		logger: logging.NewComponentLogger(logger, "room_transport"),
		events: make(chan Event, 64),
	}
}

func (t *WSTransport) Connect(ctx context.Context, wsURL, token string) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("room url: %w", err), errorsx.ReasonRoomConnect)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	conn, _, err := t.dialer.DialContext(ctx, u.String(), http.Header{
		"Authorization": []string{"Bearer " + token},
	})
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("room dial: %w", err), errorsx.ReasonRoomConnect)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	go t.readLoop(conn)
	return nil
}

func (t *WSTransport) Events() <-chan Event { return t.events }

func (t *WSTransport) PublishMicrophone(ctx context.Context) error {
	return t.write(map[string]string{"type": "publish", "source": "microphone", "kind": string(TrackAudio)})
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

func (t *WSTransport) write(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return errors.New("room not connected")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, b)
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.once.Do(func() { close(t.events) })
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason := err.Error()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				reason = "closed"
			}
			select {
			case t.events <- Event{Type: EventDisconnected, Reason: reason}:
			default:
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.logger.Warn("room_bad_event", slog.Int("size_bytes", len(data)))
			continue
		}
		if ev.Type == "" {
			continue
		}
		select {
		case t.events <- ev:
		default:
			t.logger.Warn("room_event_dropped", slog.String("type", string(ev.Type)))
		}
	}
}

var _ Transport = (*WSTransport)(nil)
