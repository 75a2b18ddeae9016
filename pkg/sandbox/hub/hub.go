// Package hub implements the Log & Terminal Hub (C6): per-sandbox
// WebSocket endpoints for live log fan-out and interactive PTY sessions.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sandboxplatform/sandboxd/internal/auth"
	"github.com/sandboxplatform/sandboxd/internal/runtime"
	"github.com/sandboxplatform/sandboxd/pkg/sandbox"
)

const (
	viewerSendBufferBytes = 1 << 20 // 1 MiB backpressure bound per viewer, per §5
	pingPeriod            = 30 * time.Second
)

// WebSocket close codes used by the hub beyond the standard set.
const (
	closeTenantMismatch  = 4004
	closeNotRunning      = 4003
	closeBackpressure    = 1009
	closeNormal          = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// sandboxAccessor is the subset of the Sandbox Service the hub needs.
type sandboxAccessor interface {
	Get(ctx context.Context, userID, id uuid.UUID) (sandbox.Response, error)
	RecentLogsForHub(ctx context.Context, id uuid.UUID, n int) ([]sandbox.LogEntry, error)
	Runtime() runtime.Adapter
	ContainerRef(ctx context.Context, userID, id uuid.UUID) (runtime.Ref, bool, error)
}

// Hub owns one log broker per sandbox with at least one live viewer, and
// dispatches terminal sessions directly against the runtime adapter.
type Hub struct {
	sandboxes  sandboxAccessor
	sessionMgr *auth.SessionManager
	oidcAuth   *auth.OIDCAuthenticator
	apikeyAuth *auth.APIKeyAuthenticator
	logger     *slog.Logger

	mu      sync.Mutex
	brokers map[uuid.UUID]*logBroker
}

// New creates a Hub.
func New(sandboxes sandboxAccessor, sessionMgr *auth.SessionManager, oidcAuth *auth.OIDCAuthenticator, apikeyAuth *auth.APIKeyAuthenticator, logger *slog.Logger) *Hub {
	return &Hub{
		sandboxes:  sandboxes,
		sessionMgr: sessionMgr,
		oidcAuth:   oidcAuth,
		apikeyAuth: apikeyAuth,
		logger:     logger,
		brokers:    make(map[uuid.UUID]*logBroker),
	}
}

// Routes returns a chi.Router with the WebSocket endpoints mounted, to be
// mounted directly on the top-level router (outside the authenticated
// /api/v1 subrouter, since auth here comes from the token query parameter).
func (h *Hub) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/sandboxes/{id}/logs", h.handleLogs)
	r.Get("/sandboxes/{id}/terminal", h.handleTerminal)
	return r
}

func (h *Hub) authenticate(r *http.Request) (*auth.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}
	return auth.Authenticate(r.Context(), token, h.sessionMgr, h.oidcAuth, h.apikeyAuth)
}

func (h *Hub) loadSandbox(r *http.Request, identity *auth.Identity) (sandbox.Response, bool) {
	sandboxID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return sandbox.Response{}, false
	}
	resp, err := h.sandboxes.Get(r.Context(), identity.UserID, sandboxID)
	if err != nil {
		return sandbox.Response{}, false
	}
	return resp, true
}

// frame and logData are the server -> client JSON message shapes.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type logData struct {
	Stream    string    `json:"stream"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Hub) handleLogs(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sb, ok := h.loadSandbox(r, identity)
	if !ok {
		conn, uerr := upgrader.Upgrade(w, r, nil)
		if uerr != nil {
			return
		}
		closeWithCode(conn, closeTenantMismatch, "sandbox not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("log ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writeFrame(conn, frame{Event: "status", Data: map[string]string{"status": string(sb.Status)}})

	recent, err := h.sandboxes.RecentLogsForHub(ctx, sb.ID, sandbox.LogReplayCount)
	if err == nil {
		for _, entry := range recent {
			writeFrame(conn, frame{Event: "log", Data: logData{Stream: entry.Stream, Text: entry.Text, Timestamp: entry.Timestamp}})
		}
	}

	viewer := make(chan logData, 256)
	if sb.Status == sandbox.StatusRunning {
		broker := h.brokerFor(sb.ID)
		broker.subscribe(viewer)
		defer func() {
			broker.unsubscribe(viewer)
			h.evictIfIdle(sb.ID, broker)
		}()
		h.ensureTailing(ctx, sb.ID, broker)
	}

	// Drain client pings on one goroutine; forward broker events on another.
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ping struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(msg, &ping) == nil && ping.Type == "ping" {
				writeFrame(conn, frame{Event: "pong"})
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-clientDone:
			return
		case <-ctx.Done():
			return
		case entry, ok := <-viewer:
			if !ok {
				return
			}
			if err := writeFrame(conn, frame{Event: "log", Data: entry}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

// ensureTailing starts the broker's single runtime tail if not already
// running, satisfying the "write logs exactly once" requirement even with
// multiple concurrent viewers.
func (h *Hub) ensureTailing(ctx context.Context, sandboxID uuid.UUID, broker *logBroker) {
	broker.startOnce(func(brokerCtx context.Context) {
		ref, ok, err := h.sandboxes.ContainerRef(ctx, uuid.Nil, sandboxID)
		if err != nil || !ok {
			return
		}
		events, err := h.sandboxes.Runtime().StreamLogs(brokerCtx, ref, time.Now())
		if err != nil {
			return
		}
		for event := range events {
			broker.publish(logData{Stream: event.Stream, Text: sandbox.RedactSecrets(event.Text), Timestamp: event.Timestamp})
		}
	})
}

func (h *Hub) brokerFor(sandboxID uuid.UUID) *logBroker {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.brokers[sandboxID]
	if !ok {
		b = newLogBroker()
		h.brokers[sandboxID] = b
	}
	return b
}

// handleTerminal multiplexes an interactive PTY exec session over a single
// WebSocket connection, per §4.6.
func (h *Hub) handleTerminal(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sb, ok := h.loadSandbox(r, identity)
	if !ok {
		conn, uerr := upgrader.Upgrade(w, r, nil)
		if uerr != nil {
			return
		}
		closeWithCode(conn, closeTenantMismatch, "sandbox not found")
		return
	}

	ref, found, err := h.sandboxes.ContainerRef(r.Context(), identity.UserID, sb.ID)
	if err != nil || !found || sb.Status != sandbox.StatusRunning {
		conn, uerr := upgrader.Upgrade(w, r, nil)
		if uerr != nil {
			return
		}
		closeWithCode(conn, closeNotRunning, "sandbox is not running")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("terminal ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pty, err := h.sandboxes.Runtime().ExecInteractive(ctx, ref, 80, 24)
	if err != nil {
		closeWithCode(conn, closeNotRunning, "failed to start terminal session")
		return
	}
	defer pty.Close()

	writeFrame(conn, frame{Event: "ready"})

	ptyDone := make(chan struct{})
	go func() {
		defer close(ptyDone)
		buf := make([]byte, 4096)
		for {
			n, err := pty.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ptyDone:
			closeWithCode(conn, closeNormal, "terminal closed")
			return
		case <-ctx.Done():
			return
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if _, werr := pty.Write(data); werr != nil {
				return
			}
		case websocket.TextMessage:
			if len(data) > 0 && data[0] == '{' {
				var ctrl struct {
					Type string `json:"type"`
					Cols int    `json:"cols"`
					Rows int    `json:"rows"`
				}
				if json.Unmarshal(data, &ctrl) == nil {
					switch ctrl.Type {
					case "resize":
						_ = pty.Resize(ctrl.Cols, ctrl.Rows)
						continue
					case "ping":
						writeFrame(conn, frame{Event: "pong"})
						continue
					}
				}
			}
			if _, werr := pty.Write(data); werr != nil {
				return
			}
		}
	}
}

// evictIfIdle removes a sandbox's broker and stops its runtime tail once the
// last viewer disconnects, so a short burst of viewing doesn't leak a
// goroutine and a map entry per sandbox for the platform's lifetime.
func (h *Hub) evictIfIdle(sandboxID uuid.UUID, broker *logBroker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if broker.viewerCount() > 0 {
		return
	}
	broker.stop()
	delete(h.brokers, sandboxID)
}

func writeFrame(conn *websocket.Conn, f frame) error {
	return conn.WriteJSON(f)
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
