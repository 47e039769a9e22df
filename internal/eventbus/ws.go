package eventbus

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ckoval7/challengectl/internal/agents"
	"github.com/ckoval7/challengectl/internal/auth"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AdminHandler upgrades verified admin sessions onto the /admin topic,
// replaying buffered log/transmission history before streaming live events
// (spec.md §4.H, §6: "implicit default for admin UI, session-cookie
// authenticated").
func (b *Bus) AdminHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromContext(r.Context())
		if id == nil || !id.TOTPVerified {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("admin ws upgrade failed", "error", err)
			return
		}

		ch, unsubscribe := b.Subscribe(TopicAdmin)
		defer unsubscribe()

		for _, ev := range b.RecentLogs() {
			writeJSON(conn, ev)
		}
		for _, ev := range b.RecentTransmissions() {
			writeJSON(conn, ev)
		}

		serve(conn, ch, logger)
	}
}

// PublicHandler upgrades anonymous connections onto the /public topic, which
// only ever receives public-safe event kinds (spec.md §4.H).
func (b *Bus) PublicHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("public ws upgrade failed", "error", err)
			return
		}

		ch, unsubscribe := b.Subscribe(TopicPublic)
		defer unsubscribe()
		serve(conn, ch, logger)
	}
}

// AgentsHandler upgrades bearer-authenticated runner/listener connections
// onto the /agents topic, used for pushing recording_assignment events to
// listeners (spec.md §4.G, §6: "/agents, authenticated by the same bearer
// token used on REST").
func (b *Bus) AgentsHandler(registry *agents.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := auth.AgentFromContext(r.Context())
		if agentID == nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("agents ws upgrade failed", "error", err)
			return
		}

		ch, unsubscribe := b.Subscribe(TopicAgents)
		defer unsubscribe()
		serve(conn, ch, logger)
	}
}

// serve runs the write pump (bus events + periodic pings) and a discarding
// read pump (runners never send anything meaningful over these namespaces,
// but must be read to drain control frames and detect disconnects).
func serve(conn *websocket.Conn, ch <-chan Event, logger *slog.Logger) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !writeJSON(conn, ev) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	payload, err := json.Marshal(v)
	if err != nil {
		return true
	}
	return conn.WriteMessage(websocket.TextMessage, payload) == nil
}
