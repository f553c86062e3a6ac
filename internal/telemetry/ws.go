package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jola2802/iot-gateway-sub000/internal/metrics"
)

// Periody WS smyček.
const (
	DeviceDataInterval = 500 * time.Millisecond
	DashboardInterval  = time.Second
	writeWait          = 5 * time.Second
)

// TokenChecker ověřuje jednorázové WS tokeny.
type TokenChecker interface {
	TokenExpiry(ctx context.Context, token string) (expires time.Time, ok bool, err error)
}

// WSHandler obsluhuje WebSocket endpointy konzole.
type WSHandler struct {
	tokens   TokenChecker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewWSHandler vytvoří handler. Konzole může běžet na jiném originu, proto CheckOrigin vše povoluje.
func NewWSHandler(tokens TokenChecker, m *metrics.Metrics, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		tokens:  tokens,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// producer vrací další zprávu. send=false znamená, že se v tomto tiku nic neposílá.
type producer func(ctx context.Context) (msg []byte, send bool)

// DeviceData posílá každých 500 ms snímek zařízení, ale jen pokud se změnil.
func (h *WSHandler) DeviceData(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var last []byte
		h.serve(w, r, "deviceData", DeviceDataInterval, func(ctx context.Context) ([]byte, bool) {
			msg, err := json.Marshal(hub.Snapshot())
			if err != nil {
				h.logger.Error("Chyba serializace dat zařízení", "error", err)
				return nil, false
			}
			if bytes.Equal(msg, last) {
				return nil, false
			}
			last = msg
			return msg, true
		})
	}
}

// Dashboard posílá každou sekundu čítače brokeru a systému.
func (h *WSHandler) Dashboard(src DashboardSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, "dashboardData", DashboardInterval, func(ctx context.Context) ([]byte, bool) {
			msg, err := json.Marshal(src.Dashboard(ctx))
			if err != nil {
				h.logger.Error("Chyba serializace dashboardu", "error", err)
				return nil, false
			}
			return msg, true
		})
	}
}

func (h *WSHandler) serve(w http.ResponseWriter, r *http.Request, endpoint string, every time.Duration, next producer) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Chybí token", http.StatusUnauthorized)
		return
	}
	expires, ok, err := h.tokens.TokenExpiry(r.Context(), token)
	if err != nil {
		h.logger.Error("Nelze ověřit WS token", "error", err)
		http.Error(w, "Interní chyba serveru", http.StatusInternalServerError)
		return
	}
	if !ok || !expires.After(h.now()) {
		http.Error(w, "Neplatný nebo prošlý token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade už odpověděl chybou.
		h.logger.Warn("WebSocket upgrade selhal", "endpoint", endpoint, "error", err)
		return
	}
	defer conn.Close()
	defer h.metrics.WSConnected(endpoint)()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Čtecí smyčka jen hlídá odpojení klienta.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !expires.After(h.now()) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "token vypršel"),
				time.Now().Add(writeWait))
			return
		}

		msg, send := next(ctx)
		if !send {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("WebSocket zápis selhal", "endpoint", endpoint, "error", err)
			return
		}
	}
}
