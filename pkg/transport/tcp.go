// Package transport adapts raw network connections to the newline-delimited
// JSON payload framing the chat protocol uses. Each adapter owns reading,
// writing and deadline handling for one client connection.
package transport

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tehcyx/gchat/pkg/protocol"
)

const writeTimeout = 10 * time.Second

// TCP frames payloads over a plain TCP connection, one JSON document per
// line.
type TCP struct {
	conn    net.Conn
	r       *bufio.Reader
	wmu     sync.Mutex
	timeout time.Duration
}

// NewTCP wraps conn. The timeout bounds how long a client may stay silent
// before the read loop gives up on it.
func NewTCP(conn net.Conn, timeout time.Duration) *TCP {
	return &TCP{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: timeout,
	}
}

// Receive blocks until the next well-formed payload arrives. Lines that fail
// to decode are logged and skipped so one garbled frame never costs the
// client its connection; only I/O errors are returned.
func (t *TCP) Receive() (protocol.Payload, error) {
	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			return nil, err
		}
		line, err := t.r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		p, err := protocol.Decode(line)
		if err != nil {
			log.Warnf("Ignoring malformed payload from %s: %v", t.conn.RemoteAddr(), err)
			continue
		}
		return p, nil
	}
}

// Send writes one payload and reports whether delivery succeeded. Safe for
// concurrent use; room broadcasts hit this from many goroutines.
func (t *TCP) Send(p protocol.Payload) bool {
	data, err := protocol.Encode(p)
	if err != nil {
		log.Errorf("Failed to encode payload for %s: %v", t.conn.RemoteAddr(), err)
		return false
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	if _, err := t.conn.Write(append(data, '\n')); err != nil {
		log.Debugf("Write to %s failed: %v", t.conn.RemoteAddr(), err)
		return false
	}
	return true
}

// Close shuts the underlying connection down. Safe to call more than once.
func (t *TCP) Close() error {
	return t.conn.Close()
}
