// internal/fanout/websocket.go
package fanout

import (
	"context"
	"net/http"
	"time"

	"loan-pipeline/internal/common/logger"

	"golang.org/x/net/websocket"
)

const wsWriteTimeout = 10 * time.Second

type wsSink struct {
	conn *websocket.Conn
}

func (w wsSink) Send(_ context.Context, p Push) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return websocket.Message.Send(w.conn, string(p.Body))
}

// NewWebsocketHandler serves push subscribers. Each text frame carries one
// PushMessage. Frames sent by the peer are read and discarded.
func NewWebsocketHandler(hub *Hub, log logger.Logger) http.Handler {
	log = log.WithFields(map[string]interface{}{"component": "websocket"})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		serveSubscriber(conn, hub, log)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
}

func serveSubscriber(conn *websocket.Conn, hub *Hub, log logger.Logger) {
	defer func() {
		_ = conn.Close()
	}()

	name := "ws"
	if req := conn.Request(); req != nil {
		name = "ws:" + req.RemoteAddr
	}
	sub := hub.Subscribe(name, wsSink{conn: conn})
	defer sub.Close()

	go func() {
		var discard string
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				sub.Close()
				return
			}
		}
	}()

	<-sub.Done()
	log.Debug("websocket closed", map[string]interface{}{"subscriber": name})
}
