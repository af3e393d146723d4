package server

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tehcyx/gchat/pkg/protocol"
)

// mockConn records everything sent to it and feeds payloads from a channel.
type mockConn struct {
	mu       sync.Mutex
	sent     []protocol.Payload
	closed   bool
	failSend bool

	recv chan protocol.Payload
}

func newMockConn() *mockConn {
	return &mockConn{recv: make(chan protocol.Payload, 16)}
}

func (c *mockConn) Receive() (protocol.Payload, error) {
	p, ok := <-c.recv
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}

func (c *mockConn) Send(p protocol.Payload) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return false
	}
	c.sent = append(c.sent, p)
	return true
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockConn) payloads() []protocol.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Payload(nil), c.sent...)
}

// ofKind filters the recorded payloads down to one tag.
func (c *mockConn) ofKind(k protocol.Kind) []protocol.Payload {
	var out []protocol.Payload
	for _, p := range c.payloads() {
		if p.Kind() == k {
			out = append(out, p)
		}
	}
	return out
}

func (c *mockConn) texts(k protocol.Kind) []string {
	var out []string
	for _, p := range c.ofKind(k) {
		out = append(out, p.Text())
	}
	return out
}

func (c *mockConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newServer(t.TempDir())
}

// connect runs the CONNECT handshake for a fresh session and asserts it
// landed in the lobby.
func connect(t *testing.T, srv *Server, name string) (*Session, *mockConn) {
	t.Helper()

	conn := newMockConn()
	sess := newSession(conn, srv)
	sess.dispatch(protocol.Connect{
		Base:       protocol.Base{Type: protocol.KindConnect, ClientID: protocol.DefaultClientID},
		ClientName: name,
	})

	require.True(t, sess.initialized(), "session %s should be initialized after CONNECT", name)
	require.NotNil(t, sess.Room())
	require.Equal(t, LobbyName, sess.Room().Name())
	return sess, conn
}

func chat(sess *Session, text string) {
	sess.dispatch(protocol.Base{Type: protocol.KindMessage, ClientID: sess.ID(), Message: text})
}

func TestConnectAssignsClientID(t *testing.T) {
	srv := newTestServer(t)
	sess, conn := connect(t, srv, "alice")

	assert.Equal(t, int64(1), sess.ID())

	ids := conn.ofKind(protocol.KindClientID)
	require.Len(t, ids, 1)
	cp, ok := ids[0].(protocol.Connect)
	require.True(t, ok)
	assert.Equal(t, int64(1), cp.Sender())
	assert.Equal(t, "alice", cp.ClientName)

	second, _ := connect(t, srv, "bob")
	assert.Equal(t, int64(2), second.ID())
}

func TestConnectRejectsEmptyName(t *testing.T) {
	srv := newTestServer(t)
	conn := newMockConn()
	sess := newSession(conn, srv)

	sess.dispatch(protocol.Connect{
		Base: protocol.Base{Type: protocol.KindConnect, ClientID: protocol.DefaultClientID},
	})

	assert.False(t, sess.initialized())
	assert.Contains(t, conn.texts(protocol.KindMessage), "A non-empty display name is required to connect.")
}

func TestCommandsBeforeConnectIgnored(t *testing.T) {
	srv := newTestServer(t)
	conn := newMockConn()
	sess := newSession(conn, srv)

	sess.dispatch(protocol.Base{Type: protocol.KindMessage, ClientID: 5, Message: "hello"})
	sess.dispatch(protocol.Base{Type: protocol.KindRoomList, ClientID: 5})

	assert.Empty(t, conn.payloads())
	assert.Nil(t, sess.Room())
}

func TestMuteNotifiesBothSides(t *testing.T) {
	srv := newTestServer(t)
	alice, aliceConn := connect(t, srv, "alice")
	bob, bobConn := connect(t, srv, "bob")

	alice.dispatch(protocol.Base{Type: protocol.KindMute, ClientID: bob.ID()})

	assert.True(t, alice.IsMuted(bob.ID()))
	assert.Contains(t, bobConn.texts(protocol.KindMessage), "alice muted you.")

	status := aliceConn.ofKind(protocol.KindMuteStatus)
	require.Len(t, status, 1)
	assert.Equal(t, bob.ID(), status[0].Sender())
	assert.Equal(t, "MUTED", status[0].Text())
}

func TestMuteIsIdempotentWithNotice(t *testing.T) {
	srv := newTestServer(t)
	alice, aliceConn := connect(t, srv, "alice")
	bob, bobConn := connect(t, srv, "bob")

	alice.dispatch(protocol.Base{Type: protocol.KindMute, ClientID: bob.ID()})
	bobConn.reset()
	aliceConn.reset()

	alice.dispatch(protocol.Base{Type: protocol.KindMute, ClientID: bob.ID()})

	assert.Contains(t, aliceConn.texts(protocol.KindMessage), "User bob is already muted.")
	assert.Empty(t, bobConn.payloads(), "the target must not be re-notified")
	assert.Empty(t, aliceConn.ofKind(protocol.KindMuteStatus))
}

func TestUnmuteNotifiesBothSides(t *testing.T) {
	srv := newTestServer(t)
	alice, aliceConn := connect(t, srv, "alice")
	bob, bobConn := connect(t, srv, "bob")

	alice.dispatch(protocol.Base{Type: protocol.KindMute, ClientID: bob.ID()})
	bobConn.reset()
	aliceConn.reset()

	alice.dispatch(protocol.Base{Type: protocol.KindUnmute, ClientID: bob.ID()})

	assert.False(t, alice.IsMuted(bob.ID()))
	assert.Contains(t, bobConn.texts(protocol.KindMessage), "alice unmuted you.")

	status := aliceConn.ofKind(protocol.KindMuteStatus)
	require.Len(t, status, 1)
	assert.Equal(t, "UNMUTED", status[0].Text())
}

func TestUnmuteWhenNotMutedNotice(t *testing.T) {
	srv := newTestServer(t)
	alice, aliceConn := connect(t, srv, "alice")
	bob, bobConn := connect(t, srv, "bob")

	alice.dispatch(protocol.Base{Type: protocol.KindUnmute, ClientID: bob.ID()})

	assert.Contains(t, aliceConn.texts(protocol.KindMessage), fmt.Sprintf("User %d is not muted.", bob.ID()))
	assert.Empty(t, bobConn.texts(protocol.KindMessage))
}

func TestMuteByDisplayName(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := connect(t, srv, "alice")
	bob, _ := connect(t, srv, "bob")

	alice.dispatch(protocol.Base{
		Type:     protocol.KindMute,
		ClientID: protocol.DefaultClientID,
		Message:  "bob",
	})

	assert.True(t, alice.IsMuted(bob.ID()))
}

func TestMuteUnknownTarget(t *testing.T) {
	srv := newTestServer(t)
	alice, aliceConn := connect(t, srv, "alice")

	alice.dispatch(protocol.Base{Type: protocol.KindMute, ClientID: 99})
	assert.Contains(t, aliceConn.texts(protocol.KindMessage), "No connected user with id 99.")

	aliceConn.reset()
	alice.dispatch(protocol.Base{
		Type:     protocol.KindMute,
		ClientID: protocol.DefaultClientID,
		Message:  "nobody",
	})
	assert.Contains(t, aliceConn.texts(protocol.KindMessage), `No connected user "nobody".`)
}

func TestMutedSenderSuppressedForMuterOnly(t *testing.T) {
	srv := newTestServer(t)
	alice, aliceConn := connect(t, srv, "alice")
	bob, bobConn := connect(t, srv, "bob")
	_, carolConn := connect(t, srv, "carol")

	alice.dispatch(protocol.Base{Type: protocol.KindMute, ClientID: bob.ID()})
	aliceConn.reset()
	bobConn.reset()
	carolConn.reset()

	chat(bob, "hi all")

	assert.Empty(t, aliceConn.ofKind(protocol.KindMessage), "alice muted bob and must not see his message")
	assert.Contains(t, bobConn.texts(protocol.KindMessage), "hi all", "bob still sees his own echo")
	assert.Contains(t, carolConn.texts(protocol.KindMessage), "hi all", "carol never muted bob")
}

func TestPrivateMessageDelivery(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := connect(t, srv, "alice")
	bob, bobConn := connect(t, srv, "bob")
	_, carolConn := connect(t, srv, "carol")
	bobConn.reset()
	carolConn.reset()

	alice.dispatch(protocol.Base{
		Type:     protocol.KindPrivateMessage,
		ClientID: bob.ID(),
		Message:  "psst",
	})

	msgs := bobConn.ofKind(protocol.KindMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, alice.ID(), msgs[0].Sender())
	assert.Equal(t, "psst", msgs[0].Text())
	assert.Empty(t, carolConn.payloads(), "private messages go only to the target")
}

func TestPrivateMessageToMutedTargetDropped(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := connect(t, srv, "alice")
	bob, bobConn := connect(t, srv, "bob")

	alice.dispatch(protocol.Base{Type: protocol.KindMute, ClientID: bob.ID()})
	bobConn.reset()

	alice.dispatch(protocol.Base{
		Type:     protocol.KindPrivateMessage,
		ClientID: bob.ID(),
		Message:  "psst",
	})

	assert.Empty(t, bobConn.ofKind(protocol.KindMessage))
}

func TestPrivateMessageUnknownTarget(t *testing.T) {
	srv := newTestServer(t)
	alice, aliceConn := connect(t, srv, "alice")

	alice.dispatch(protocol.Base{
		Type:     protocol.KindPrivateMessage,
		ClientID: 42,
		Message:  "psst",
	})

	assert.Contains(t, aliceConn.texts(protocol.KindMessage), "No connected user with id 42.")
}

func TestMuteSurvivesReconnect(t *testing.T) {
	dir := t.TempDir()
	srv := newServer(dir)
	alice, _ := connect(t, srv, "alice")
	bob, _ := connect(t, srv, "bob")

	alice.dispatch(protocol.Base{Type: protocol.KindMute, ClientID: bob.ID()})
	alice.dispatch(protocol.Base{Type: protocol.KindDisconnect, ClientID: alice.ID()})

	again, _ := connect(t, srv, "alice")
	assert.True(t, again.IsMuted(bob.ID()), "mute list is keyed by display name and reloaded on connect")
}

func TestUnknownTagIsIgnored(t *testing.T) {
	srv := newTestServer(t)
	alice, aliceConn := connect(t, srv, "alice")
	aliceConn.reset()

	alice.dispatch(protocol.Base{Type: protocol.Kind("SOMETHING_NEW"), ClientID: alice.ID(), Message: "?"})

	assert.Empty(t, aliceConn.payloads())
	assert.Equal(t, LobbyName, alice.Room().Name())
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	srv := newTestServer(t)
	alice, aliceConn := connect(t, srv, "alice")
	_, bobConn := connect(t, srv, "bob")
	bobConn.reset()

	alice.dispatch(protocol.Base{Type: protocol.KindDisconnect, ClientID: alice.ID()})

	notices := bobConn.ofKind(protocol.KindDisconnect)
	require.Len(t, notices, 1)
	cp, ok := notices[0].(protocol.Connect)
	require.True(t, ok)
	assert.Equal(t, alice.ID(), cp.Sender())
	assert.Equal(t, "alice", cp.ClientName)
	assert.True(t, aliceConn.closed)
}
