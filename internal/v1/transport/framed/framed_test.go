package framed

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lairchat/server/internal/v1/auth"
	"github.com/lairchat/server/internal/v1/crypto"
	"github.com/lairchat/server/internal/v1/dispatcher"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/sessionmgr"
	"github.com/lairchat/server/internal/v1/storage/memory"
	"github.com/lairchat/server/internal/v1/transport/command"
	"github.com/lairchat/server/internal/v1/transport/wire"
	"github.com/lairchat/server/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRouter(t *testing.T) *command.Router {
	t.Helper()
	store := memory.New()
	repos := store.Repositories()
	validator, err := auth.NewValidator("test-secret-that-is-long-enough", "framed-test")
	require.NoError(t, err)
	mgr := sessionmgr.New(repos.Sessions)
	disp := dispatcher.New(repos.Memberships)
	eng := engine.New(repos, validator, mgr, disp)
	return &command.Router{Engine: eng, Sessions: mgr, Protocol: types.ProtocolFramed}
}

// startConn runs one server-side connection over a pipe and returns the
// client end plus a done channel that closes when the server side exits.
func startConn(t *testing.T, router *command.Router, requireEncryption bool) (net.Conn, chan struct{}) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	c := newConn(server, router, 5*time.Second, requireEncryption)
	go func() {
		defer close(done)
		c.run(ctx)
	}()
	t.Cleanup(func() {
		_ = client.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server connection did not shut down")
		}
	})
	return client, done
}

// testClient wraps the client end of a pipe with the same frame and envelope
// plumbing the production client uses.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	cipher *crypto.Cipher
}

func (tc *testClient) handshake(offerKey bool) serverHello {
	tc.t.Helper()
	raw, err := readFrame(tc.conn, MaxFrameSize)
	require.NoError(tc.t, err)
	var hello serverHello
	require.NoError(tc.t, json.Unmarshal(raw, &hello))
	require.Equal(tc.t, "server_hello", hello.Type)
	require.Equal(tc.t, ProtocolVersion, hello.Version)
	require.NotEmpty(tc.t, hello.EphemeralPubkey)

	reply := clientHello{Type: "client_hello", Version: ProtocolVersion, ClientName: "framed-test-client"}
	if offerKey {
		keys, err := crypto.GenerateKeyPair()
		require.NoError(tc.t, err)
		reply.EphemeralPubkey = keys.PublicKeyBase64()

		serverPub, err := crypto.ParsePublicKey(hello.EphemeralPubkey)
		require.NoError(tc.t, err)
		secret, err := keys.SharedSecret(serverPub)
		require.NoError(tc.t, err)
		tc.cipher, err = crypto.NewCipher(secret)
		require.NoError(tc.t, err)
	}
	raw, err = json.Marshal(reply)
	require.NoError(tc.t, err)
	require.NoError(tc.t, writeFrame(tc.conn, raw))
	return hello
}

func (tc *testClient) send(env wire.Envelope) {
	tc.t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(tc.t, err)
	if tc.cipher != nil {
		sealed, err := tc.cipher.Seal(raw)
		require.NoError(tc.t, err)
		raw, err = json.Marshal(sealed)
		require.NoError(tc.t, err)
	}
	require.NoError(tc.t, writeFrame(tc.conn, raw))
}

func (tc *testClient) recv() (wire.Envelope, error) {
	raw, err := readFrame(tc.conn, MaxFrameSize)
	if err != nil {
		return wire.Envelope{}, err
	}
	if tc.cipher != nil {
		var sealed crypto.Envelope
		if err := json.Unmarshal(raw, &sealed); err != nil {
			return wire.Envelope{}, err
		}
		raw, err = tc.cipher.Open(sealed)
		if err != nil {
			return wire.Envelope{}, err
		}
	}
	var env wire.Envelope
	err = json.Unmarshal(raw, &env)
	return env, err
}

func (tc *testClient) mustRecv() wire.Envelope {
	tc.t.Helper()
	_ = tc.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	env, err := tc.recv()
	require.NoError(tc.t, err)
	return env
}

// mustRecvType reads until a frame of the wanted type arrives, skipping the
// transient presence events that race command responses onto the wire.
func (tc *testClient) mustRecvType(want string) wire.Envelope {
	tc.t.Helper()
	for i := 0; i < 10; i++ {
		env := tc.mustRecv()
		switch env.Type {
		case "user_online", "user_offline", "user_typing":
			continue
		}
		require.Equal(tc.t, want, env.Type)
		return env
	}
	tc.t.Fatalf("no %s frame within 10 reads", want)
	return wire.Envelope{}
}

func registerPayloadJSON(t *testing.T, username string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "P@ssword123",
	})
	require.NoError(t, err)
	return raw
}

func TestPlaintextHandshakeRegisterAndRoomFlow(t *testing.T) {
	router := newTestRouter(t)
	clientConn, _ := startConn(t, router, false)
	tc := &testClient{t: t, conn: clientConn}

	tc.handshake(false)

	tc.send(wire.Envelope{Type: "register", RequestID: "r1", Data: registerPayloadJSON(t, "alice")})
	resp := tc.mustRecv()
	require.Equal(t, "auth_success", resp.Type)
	require.Equal(t, "r1", resp.RequestID)

	roomReq, _ := json.Marshal(map[string]any{"name": "general"})
	tc.send(wire.Envelope{Type: "create_room", RequestID: "r2", Data: roomReq})
	resp = tc.mustRecvType("room")
	var room struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &room))
	require.NotEmpty(t, room.ID)

	msgReq, _ := json.Marshal(map[string]any{
		"target":  map[string]string{"room": room.ID},
		"content": "hi",
	})
	tc.send(wire.Envelope{Type: "send_message", RequestID: "r3", Data: msgReq})

	// The command result and the fan-out event (the sender is a member of
	// the room) race onto the wire; accept either order.
	got := map[string]bool{}
	for i := 0; i < 5 && !(got["message"] && got["message_received"]); i++ {
		env := tc.mustRecv()
		got[env.Type] = true
	}
	require.True(t, got["message"], "expected the send_message result")
	require.True(t, got["message_received"], "expected the fan-out event")
}

func TestEncryptedSessionRoundTrip(t *testing.T) {
	router := newTestRouter(t)
	clientConn, _ := startConn(t, router, true)
	tc := &testClient{t: t, conn: clientConn}

	tc.handshake(true)
	require.NotNil(t, tc.cipher)

	tc.send(wire.Envelope{Type: "register", RequestID: "r1", Data: registerPayloadJSON(t, "bob")})
	resp := tc.mustRecv()
	require.Equal(t, "auth_success", resp.Type)
}

func TestEncryptionRequiredRejectsPlaintextClient(t *testing.T) {
	router := newTestRouter(t)
	clientConn, done := startConn(t, router, true)
	tc := &testClient{t: t, conn: clientConn}

	tc.handshake(false)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected connection to close when no key was offered")
	}
}

func TestOversizedFrameTerminatesConnection(t *testing.T) {
	router := newTestRouter(t)
	clientConn, done := startConn(t, router, false)
	tc := &testClient{t: t, conn: clientConn}

	tc.handshake(false)

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	_, err := clientConn.Write(header[:])
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected connection to close on oversized frame")
	}
}

func TestTamperedCiphertextClosesWithoutExecuting(t *testing.T) {
	router := newTestRouter(t)
	clientConn, done := startConn(t, router, true)
	tc := &testClient{t: t, conn: clientConn}

	tc.handshake(true)

	raw, err := json.Marshal(wire.Envelope{Type: "register", RequestID: "r1", Data: registerPayloadJSON(t, "mallory")})
	require.NoError(t, err)
	sealed, err := tc.cipher.Seal(raw)
	require.NoError(t, err)

	ct, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	require.NoError(t, err)
	ct[0] ^= 0x01
	ct[len(ct)/2] ^= 0x80
	sealed.Ciphertext = base64.StdEncoding.EncodeToString(ct)

	frame, err := json.Marshal(sealed)
	require.NoError(t, err)
	require.NoError(t, writeFrame(clientConn, frame))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected connection to close on tampered frame")
	}

	// The register must not have executed: logging in with those
	// credentials on a fresh connection fails.
	clientConn2, _ := startConn(t, router, false)
	tc2 := &testClient{t: t, conn: clientConn2}
	tc2.handshake(false)
	loginReq, _ := json.Marshal(map[string]string{"identifier": "mallory", "password": "P@ssword123"})
	tc2.send(wire.Envelope{Type: "login", RequestID: "r1", Data: loginReq})
	tc2.mustRecvType("error")
}

func TestUnauthenticatedCommandRejected(t *testing.T) {
	router := newTestRouter(t)
	clientConn, _ := startConn(t, router, false)
	tc := &testClient{t: t, conn: clientConn}

	tc.handshake(false)

	roomReq, _ := json.Marshal(map[string]any{"name": "sneaky"})
	tc.send(wire.Envelope{Type: "create_room", RequestID: "r1", Data: roomReq})
	tc.mustRecvType("error")
}

func TestLogoutEntersClosing(t *testing.T) {
	router := newTestRouter(t)
	clientConn, done := startConn(t, router, false)
	tc := &testClient{t: t, conn: clientConn}

	tc.handshake(false)
	tc.send(wire.Envelope{Type: "register", RequestID: "r1", Data: registerPayloadJSON(t, "carol")})
	resp := tc.mustRecv()
	require.Equal(t, "auth_success", resp.Type)

	tc.send(wire.Envelope{Type: "logout", RequestID: "r2"})
	resp = tc.mustRecvType("logout_result")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected connection to drain and close after logout")
	}
}

func TestReadFrameBounds(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
		_, _ = client.Write(header[:])
	}()

	_ = server.SetReadDeadline(time.Now().Add(time.Second))
	_, err := readFrame(server, MaxFrameSize)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte(`{"type":"server_hello"}`)
	go func() {
		_ = writeFrame(client, payload)
	}()

	_ = server.SetReadDeadline(time.Now().Add(time.Second))
	got, err := readFrame(server, MaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestServerMaxConnections(t *testing.T) {
	router := newTestRouter(t)
	srv := NewServer(router, WithMaxConnections(1), WithPlaintextAllowed(), WithIdleTimeout(time.Second))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = srv.Serve(ctx, lis)
	}()

	first, err := net.Dial("tcp", lis.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	// The admitted connection speaks first: draining its server_hello
	// proves it is inside the handler and holding the one slot.
	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = readFrame(first, MaxFrameSize)
	require.NoError(t, err)

	second, err := net.Dial("tcp", lis.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadAll(second)
	require.NoError(t, err, "rejected connection should be closed cleanly")

	cancel()
	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
