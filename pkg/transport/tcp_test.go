package transport

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tehcyx/gchat/pkg/protocol"
)

func TestTCPReceive(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := NewTCP(server, time.Second)
	defer tr.Close()

	go func() {
		client.Write([]byte(`{"type":"MESSAGE","clientId":3,"message":"hello"}` + "\n"))
	}()

	p, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.KindMessage, p.Kind())
	assert.Equal(t, int64(3), p.Sender())
	assert.Equal(t, "hello", p.Text())
}

func TestTCPReceiveSkipsGarbage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := NewTCP(server, time.Second)
	defer tr.Close()

	go func() {
		client.Write([]byte("not json at all\n"))
		client.Write([]byte("\n"))
		client.Write([]byte(`{"clientId":1}` + "\n"))
		client.Write([]byte(`{"type":"FLIP","clientId":2}` + "\n"))
	}()

	p, err := tr.Receive()
	require.NoError(t, err, "garbled lines are skipped, not fatal")
	assert.Equal(t, protocol.KindFlip, p.Kind())
}

func TestTCPReceiveTimesOut(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := NewTCP(server, 20*time.Millisecond)
	defer tr.Close()

	_, err := tr.Receive()
	require.Error(t, err)
	nerr, ok := err.(net.Error)
	require.True(t, ok)
	assert.True(t, nerr.Timeout())
}

func TestTCPReceiveConnectionClosed(t *testing.T) {
	client, server := net.Pipe()

	tr := NewTCP(server, time.Second)
	defer tr.Close()

	client.Close()

	_, err := tr.Receive()
	assert.Error(t, err)
}

func TestTCPSend(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := NewTCP(server, time.Second)
	defer tr.Close()

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(client).ReadString('\n')
		lines <- line
	}()

	ok := tr.Send(protocol.Base{Type: protocol.KindMessage, ClientID: 5, Message: "hi"})
	assert.True(t, ok)

	line := <-lines
	p, err := protocol.Decode([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, protocol.KindMessage, p.Kind())
	assert.Equal(t, int64(5), p.Sender())
	assert.Equal(t, "hi", p.Text())
}

func TestTCPSendFailsOnClosedConnection(t *testing.T) {
	client, server := net.Pipe()
	client.Close()

	tr := NewTCP(server, time.Second)
	defer tr.Close()

	ok := tr.Send(protocol.Base{Type: protocol.KindMessage, ClientID: 5, Message: "hi"})
	assert.False(t, ok)
}
