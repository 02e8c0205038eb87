package devices

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Devices are not browsers; there is no origin to check.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsObserver is a websocket-connected device.
type wsObserver struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (o *wsObserver) ID() string { return o.id }

func (o *wsObserver) Send(ctx context.Context, action string) error {
	return o.write(ctx, action)
}

func (o *wsObserver) write(ctx context.Context, text string) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := o.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return o.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// ServeHTTP upgrades the request to a websocket and keeps the device
// registered until the connection closes. Inbound text is echoed back.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	o := &wsObserver{id: "ws-" + uuid.NewString(), conn: conn}
	defer func() {
		h.Remove(o.id)
		conn.Close()
	}()

	if h.greeting != "" {
		if err := o.write(r.Context(), h.greeting); err != nil {
			h.logger.Debug("greeting failed", "observer", o.id, "error", err)
			return
		}
	}
	h.Add(o)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "observer", o.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.logger.Debug("observer message", "observer", o.id, "text", string(data))
		if err := o.write(context.Background(), string(data)); err != nil {
			return
		}
	}
}
