package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Op codes for feed payloads.
const (
	opDispatch  = 0
	opHeartbeat = 1
	opSubscribe = 2
	opStatus    = 9
)

// Event names for dispatch payloads.
const (
	eventMessageInsert = "MESSAGE_INSERT"
	eventMessageDelete = "MESSAGE_DELETE"
)

// feedPayload is the envelope for all feed messages.
type feedPayload struct {
	Op    int             `json:"op"`
	Data  json.RawMessage `json:"d,omitempty"`
	Event *string         `json:"t,omitempty"`
}

// subscribeData is sent upstream right after the socket opens.
type subscribeData struct {
	SubID  string `json:"sub_id"`
	UserID int64  `json:"user_id,string"`
	Scope  string `json:"scope"`
	Key    string `json:"key,omitempty"`
}

// statusData carries upstream channel status transitions.
type statusData struct {
	Status string `json:"status"`
}

// WSTransport opens one WebSocket per logical subscription against the
// change-feed endpoint.
type WSTransport struct {
	url    string
	dialer *websocket.Dialer
}

func NewWSTransport(url string) *WSTransport {
	return &WSTransport{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (t *WSTransport) Subscribe(ctx context.Context, subID string, filter Filter, h Handlers) (Subscription, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	sub := subscribeData{
		SubID:  subID,
		UserID: filter.UserID,
		Scope:  string(filter.Scope),
	}
	if filter.Scope == ScopeDirect {
		sub.Key = filter.Key.String()
	}
	data, err := json.Marshal(sub)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("marshal subscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(feedPayload{Op: opSubscribe, Data: data}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	s := &wsSubscription{
		conn:  conn,
		subID: subID,
		label: filter.Label(),
		h:     h,
		done:  make(chan struct{}),
	}
	go s.readPump()
	go s.pingLoop()
	return s, nil
}

type wsSubscription struct {
	conn  *websocket.Conn
	subID string
	label string
	h     Handlers

	closeOnce sync.Once
	done      chan struct{}
}

func (s *wsSubscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
}

// readPump reads feed payloads until the socket dies. Any unexpected read
// error is surfaced as CHANNEL_ERROR so the manager can reset the channel;
// a deliberate Unsubscribe is not.
func (s *wsSubscription) readPump() {
	defer s.Unsubscribe()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				slog.Warn("feed read error", "scope", s.label, "subID", s.subID, "error", err)
				if s.h.OnStatus != nil {
					s.h.OnStatus(StatusChannelError)
				}
			}
			return
		}
		s.handlePayload(message)
	}
}

// pingLoop keeps the socket alive; a missed pong expires the read deadline
// and the read pump reports the failure.
func (s *wsSubscription) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSubscription) handlePayload(data []byte) {
	var payload feedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Warn("invalid feed payload", "scope", s.label, "error", err)
		return
	}

	switch payload.Op {
	case opDispatch:
		s.handleDispatch(payload)

	case opStatus:
		var st statusData
		if err := json.Unmarshal(payload.Data, &st); err != nil {
			slog.Warn("invalid status payload", "scope", s.label, "error", err)
			return
		}
		if s.h.OnStatus != nil {
			s.h.OnStatus(parseStatus(st.Status))
		}

	case opHeartbeat:
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteJSON(feedPayload{Op: opHeartbeat})
	}
}

func (s *wsSubscription) handleDispatch(payload feedPayload) {
	if payload.Event == nil {
		return
	}
	switch *payload.Event {
	case eventMessageInsert:
		var ev models.MessageEvent
		if err := json.Unmarshal(payload.Data, &ev); err != nil {
			slog.Warn("invalid insert payload", "scope", s.label, "error", err)
			return
		}
		if s.h.OnInsert != nil {
			s.h.OnInsert(ev)
		}
	case eventMessageDelete:
		var ev models.DeleteEvent
		if err := json.Unmarshal(payload.Data, &ev); err != nil {
			slog.Warn("invalid delete payload", "scope", s.label, "error", err)
			return
		}
		if s.h.OnDelete != nil {
			s.h.OnDelete(ev)
		}
	}
}

func parseStatus(s string) Status {
	switch s {
	case "SUBSCRIBED":
		return StatusSubscribed
	case "TIMED_OUT":
		return StatusTimedOut
	default:
		return StatusChannelError
	}
}
