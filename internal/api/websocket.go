package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/config"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/logging"
)

// Live feed message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes a client to every broadcast channel.
	WSChannelAll = "*"

	feedBufferSize = 256
)

// WSMessage is the envelope of everything exchanged on /ws.
// Device events arrive as type "event" with event_type "device.event" or
// "device.alert" and, when known, the dispenser serial.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Serial    string `json:"serial,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, dispensers.
// An empty Serials list means every dispenser.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Serials  []string `json:"serials,omitempty"`
}

// serialer is implemented by payloads that belong to one dispenser.
type serialer interface {
	DeviceSerial() string
}

// Hub fans device events out to live feed subscribers.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

type subscriber struct {
	hub  *Hub
	conn *websocket.Conn

	mu       sync.RWMutex
	out      chan []byte
	closed   bool
	channels map[string]struct{}
	serials  map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware has already vetted the origin.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.close()
	}
}

// Broadcast delivers payload to every subscriber of channel. Payloads that
// carry a dispenser serial skip subscribers watching other dispensers.
// Slow subscribers lose the message instead of stalling the caller.
func (h *Hub) Broadcast(channel string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	if p, ok := payload.(serialer); ok {
		msg.Serial = p.DeviceSerial()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding feed event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if !s.wants(channel, msg.Serial) {
			continue
		}
		if s.enqueue(data) {
			delivered++
		} else {
			h.dropped.Add(1)
		}
	}
	if delivered > 0 {
		h.logger.Debug("feed event sent", "channel", channel, "serial", msg.Serial, "recipients", delivered)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("feed subscriber connected", "clients", n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	s.close()
	h.logger.Debug("feed subscriber disconnected", "clients", n)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		hub:      s.hub,
		conn:     conn,
		out:      make(chan []byte, feedBufferSize),
		channels: make(map[string]struct{}),
		serials:  make(map[string]struct{}),
	}
	s.hub.add(sub)

	go sub.writeLoop(s.wsCfg)
	go sub.readLoop(s.wsCfg)
}

func (s *subscriber) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		s.hub.remove(s)
		s.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return s.conn.SetReadDeadline(time.Now().Add(idle)) }

	s.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // Best-effort deadline
	s.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		extend() //nolint:errcheck // Best-effort deadline
		s.handle(data)
	}
}

func (s *subscriber) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write error reported below
		return s.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-s.out:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Connection is going away
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (s *subscriber) handle(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		sub, ok := s.subscription(msg)
		if !ok {
			return
		}
		s.mu.Lock()
		for _, ch := range sub.Channels {
			s.channels[ch] = struct{}{}
		}
		for _, serial := range sub.Serials {
			s.serials[serial] = struct{}{}
		}
		s.mu.Unlock()
		s.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels, "serials": sub.Serials})

	case WSTypeUnsubscribe:
		sub, ok := s.subscription(msg)
		if !ok {
			return
		}
		s.mu.Lock()
		for _, ch := range sub.Channels {
			delete(s.channels, ch)
		}
		for _, serial := range sub.Serials {
			delete(s.serials, serial)
		}
		s.mu.Unlock()
		s.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})

	case WSTypePing:
		s.reply(msg.ID, WSTypePong, nil)

	default:
		s.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

// subscription decodes a (un)subscribe payload, answering the client when
// it does not name any channel.
func (s *subscriber) subscription(msg WSMessage) (WSSubscribePayload, bool) {
	var sub WSSubscribePayload
	raw, err := json.Marshal(msg.Payload)
	if err == nil {
		err = json.Unmarshal(raw, &sub)
	}
	if err != nil || len(sub.Channels) == 0 {
		s.reply(msg.ID, WSTypeError, errorPayload("payload must list channels"))
		return sub, false
	}
	return sub, true
}

func (s *subscriber) wants(channel, serial string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, all := s.channels[WSChannelAll]
	_, named := s.channels[channel]
	if !all && !named {
		return false
	}
	if serial == "" || len(s.serials) == 0 {
		return true
	}
	_, ok := s.serials[serial]
	return ok
}

// enqueue reports false when the subscriber is gone or its buffer is full.
func (s *subscriber) enqueue(data []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- data:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

func (s *subscriber) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		s.enqueue(data)
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
