// Package hub serves the session to browser clients over WebSocket.
//
// Every session update is broadcast as a JSON event envelope
// {"type": ..., "timestamp": ..., "data": {...}}. Clients send intents such as
// {"type":"command","command":"open"} and get a {"type":"result"} reply.
package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/user/ventana-link/connection"
	"github.com/user/ventana-link/eventbus"
	"github.com/user/ventana-link/logger"
	"github.com/user/ventana-link/protocol"
	"github.com/user/ventana-link/session"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	writeWait    = 100 * time.Millisecond
	pingInterval = 20 * time.Second
	clientBuffer = 64
)

// Controller is the part of a session the hub drives
type Controller interface {
	RequestCommand(cmd protocol.Command) error
	Reconnect() error
	Teardown() error
	CurrentState() connection.State
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Hub fans events out to WebSocket clients
type Hub struct {
	ctrl Controller
	bus  *eventbus.Bus[[]byte]
}

// New creates a hub driving ctrl
func New(ctrl Controller) *Hub {
	return &Hub{ctrl: ctrl, bus: eventbus.New[[]byte](clientBuffer)}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	return h.bus.Len()
}

// Notify broadcasts an alert; Hub is a notify.Notifier
func (h *Hub) Notify(title, body string) {
	h.broadcast("alert", map[string]interface{}{"title": title, "body": body})
}

// Run broadcasts session updates until ctx is done or updates closes.
// Alerts are skipped here because they reach the hub through Notify.
func (h *Hub) Run(ctx context.Context, updates <-chan session.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Kind == session.UpdateAlert {
				continue
			}
			kind, data := describe(u)
			h.broadcastAt(kind, u.At, data)
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.bus.Close()
}

func (h *Hub) broadcast(kind string, data map[string]interface{}) {
	h.broadcastAt(kind, time.Now(), data)
}

func (h *Hub) broadcastAt(kind string, at time.Time, data map[string]interface{}) {
	msg, err := Encode(kind, at, data)
	if err != nil {
		logger.Warn("hub", "⚠️  encode %s: %v", kind, err)
		return
	}
	h.bus.Publish(msg)
}

// ServeHTTP upgrades the request and serves one client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("hub", "ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	events, unsub := h.bus.Subscribe()
	defer unsub()

	replies := make(chan []byte, clientBuffer)
	if hello, err := Encode("state", time.Now(), stateData(h.ctrl.CurrentState())); err == nil {
		replies <- hello
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		h.read(conn, replies)
	}()

	logger.Debug("hub", "client connected from %s", r.RemoteAddr)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		var msg []byte
		select {
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		case m, ok := <-events:
			if !ok {
				return
			}
			msg = m
		case m := <-replies:
			msg = m
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Debug("hub", "ws write: %v", err)
			return
		}
	}
}

// read handles client intents until the connection fails
func (h *Hub) read(conn *websocket.Conn, replies chan<- []byte) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		reply := h.handleIntent(data)
		select {
		case replies <- reply:
		default:
			logger.Warn("hub", "⚠️  reply queue full, dropping")
		}
	}
}

// handleIntent executes one client message and returns the encoded result
func (h *Hub) handleIntent(data []byte) []byte {
	intent := &structpb.Struct{}
	err := protojson.Unmarshal(data, intent)
	var kind string
	if err == nil {
		logger.DebugJSON("hub", "intent", intent)
		kind = intent.GetFields()["type"].GetStringValue()
		err = h.dispatch(kind, intent)
	}

	result := map[string]interface{}{"request": kind, "ok": err == nil}
	if err != nil {
		result["error"] = err.Error()
	}
	msg, encErr := Encode("result", time.Now(), result)
	if encErr != nil {
		logger.Warn("hub", "⚠️  encode result: %v", encErr)
	}
	return msg
}

func (h *Hub) dispatch(kind string, intent *structpb.Struct) error {
	switch kind {
	case "command":
		cmd, err := protocol.ParseCommand(intent.GetFields()["command"].GetStringValue())
		if err != nil {
			return err
		}
		return h.ctrl.RequestCommand(cmd)
	case "connect":
		return h.ctrl.Reconnect()
	case "teardown":
		return h.ctrl.Teardown()
	case "":
		return errors.New("hub: missing type")
	default:
		return errors.Errorf("hub: unknown intent %q", kind)
	}
}
