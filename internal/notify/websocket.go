package notify

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// WebSocketRelay streams a game's notifications to a websocket client as JSON
// text frames until either side closes.
type WebSocketRelay struct {
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketRelay creates a WebSocketRelay reading from hub.
//
// Precondition: hub and logger must be non-nil.
func NewWebSocketRelay(hub *Hub, logger *zap.Logger) *WebSocketRelay {
	return &WebSocketRelay{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and relays notifications for gameID.
// It blocks until the connection ends.
func (ws *WebSocketRelay) Serve(w http.ResponseWriter, r *http.Request, gameID string) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		ws.logger.Debug("websocket upgrade failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	defer conn.Close()

	sub := ws.hub.Subscribe(gameID)
	defer sub.Close()

	closed := make(chan struct{})
	go ws.drain(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			ws.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case n, ok := <-sub.Events():
			if !ok {
				ws.closeWith(conn, websocket.CloseNormalClosure, "")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				ws.logger.Debug("websocket write failed", zap.String("game_id", gameID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// drain discards client frames so control messages are processed, and
// signals closed when the client goes away.
func (ws *WebSocketRelay) drain(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ws *WebSocketRelay) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
