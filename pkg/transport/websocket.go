package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/tehcyx/gchat/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocket frames payloads over a websocket connection, one JSON document
// per text message.
type WebSocket struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Upgrade turns an HTTP request into a WebSocket transport.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocket{conn: conn}, nil
}

// Receive blocks until the next well-formed payload arrives, skipping
// messages that fail to decode. Only I/O errors are returned.
func (ws *WebSocket) Receive() (protocol.Payload, error) {
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		p, err := protocol.Decode(data)
		if err != nil {
			log.Warnf("Ignoring malformed payload from %s: %v", ws.conn.RemoteAddr(), err)
			continue
		}
		return p, nil
	}
}

// Send writes one payload and reports whether delivery succeeded.
func (ws *WebSocket) Send(p protocol.Payload) bool {
	data, err := protocol.Encode(p)
	if err != nil {
		log.Errorf("Failed to encode payload for %s: %v", ws.conn.RemoteAddr(), err)
		return false
	}

	ws.wmu.Lock()
	defer ws.wmu.Unlock()

	if err := ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debugf("Write to %s failed: %v", ws.conn.RemoteAddr(), err)
		return false
	}
	return true
}

// Close shuts the underlying connection down.
func (ws *WebSocket) Close() error {
	return ws.conn.Close()
}
