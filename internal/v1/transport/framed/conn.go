package framed

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lairchat/server/internal/v1/crypto"
	"github.com/lairchat/server/internal/v1/logging"
	"github.com/lairchat/server/internal/v1/metrics"
	"github.com/lairchat/server/internal/v1/transport/command"
	"github.com/lairchat/server/internal/v1/transport/wire"
)

// connState tracks the connection state machine. The hello states
// are passed through inside handshake(); the interesting run-time
// distinction is Authenticating vs Ready, which the conn derives from
// whether sess carries a user id.
type connState int

const (
	stateAuthenticating connState = iota
	stateReady
	stateClosing
)

// conn is one framed connection: the socket, the negotiated cipher (nil in
// plaintext test mode), the bound session, and the live event subscription
// once authenticated.
type conn struct {
	netConn           net.Conn
	router            *command.Router
	idleTimeout       time.Duration
	requireEncryption bool

	cipher     *crypto.Cipher
	sess       *command.Session
	sub        *command.Subscription
	state      connState
	clientName string

	// writeMu serializes response frames and asynchronous event frames onto
	// the single outbound byte stream.
	writeMu sync.Mutex
}

func newConn(netConn net.Conn, router *command.Router, idleTimeout time.Duration, requireEncryption bool) *conn {
	return &conn{
		netConn:           netConn,
		router:            router,
		idleTimeout:       idleTimeout,
		requireEncryption: requireEncryption,
		sess:              &command.Session{},
	}
}

// run drives the connection through handshake, authentication, and the
// Ready command loop, then tears everything down. Cryptographic failures
// close the connection without a descriptive frame.
func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.teardown(ctx)

	if err := c.handshake(); err != nil {
		logging.Warn(ctx, "framed: handshake failed", zap.Error(err))
		return
	}

	for c.state != stateClosing {
		if ctx.Err() != nil {
			return
		}
		payload, err := c.readPayload()
		if err != nil {
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.writeError("", wireParseError())
			continue
		}

		if env.Type == "typing" {
			c.router.HandleTyping(ctx, c.sess, env.Data)
			continue
		}

		wasAuthed := c.sess.UserID != ""
		resp, newSess, err := c.router.Dispatch(ctx, c.sess, env, c.remoteIP(), c.clientName)
		c.sess = newSess
		if err != nil {
			c.writeError(env.RequestID, err)
			continue
		}
		if err := c.writeEnvelope(resp); err != nil {
			return
		}

		if !wasAuthed && c.sess.UserID != "" {
			ctx = logging.WithCaller(ctx, string(c.sess.UserID), string(c.sess.SessionID))
		}
		c.syncSubscription(ctx, wasAuthed)

		if env.Type == "logout" {
			c.state = stateClosing
		}
		if c.sub != nil && c.sub.Degraded() {
			metrics.SessionsDegraded.WithLabelValues(string(c.router.Protocol)).Inc()
			c.state = stateClosing
		}
	}
}

// handshake performs the hello exchange: server_hello first, then
// client_hello, deriving the AEAD cipher when both sides supplied keys.
func (c *conn) handshake() error {
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}

	hello, err := json.Marshal(serverHello{
		Type:            "server_hello",
		Version:         ProtocolVersion,
		ServerName:      ServerName,
		EphemeralPubkey: keys.PublicKeyBase64(),
	})
	if err != nil {
		return err
	}
	if err := c.writeRaw(hello); err != nil {
		return err
	}

	payload, err := c.readRaw()
	if err != nil {
		return err
	}
	var reply clientHello
	if err := json.Unmarshal(payload, &reply); err != nil {
		return err
	}
	if reply.Type != "client_hello" {
		return errUnexpectedFrame(reply.Type)
	}
	c.clientName = reply.ClientName

	if reply.EphemeralPubkey == "" {
		if c.requireEncryption {
			return errEncryptionRequired
		}
		return nil
	}

	peer, err := crypto.ParsePublicKey(reply.EphemeralPubkey)
	if err != nil {
		return err
	}
	secret, err := keys.SharedSecret(peer)
	if err != nil {
		return err
	}
	c.cipher, err = crypto.NewCipher(secret)
	return err
}

// readPayload reads one frame and, post-handshake, opens its AEAD envelope.
// Any authentication failure closes the connection.
func (c *conn) readPayload() ([]byte, error) {
	payload, err := c.readRaw()
	if err != nil {
		return nil, err
	}
	if c.cipher == nil {
		return payload, nil
	}
	var env crypto.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		metrics.FramedFramesRejected.WithLabelValues("malformed_envelope").Inc()
		return nil, err
	}
	plaintext, err := c.cipher.Open(env)
	if err != nil {
		metrics.FramedFramesRejected.WithLabelValues("auth_failed").Inc()
		return nil, err
	}
	return plaintext, nil
}

func (c *conn) readRaw() ([]byte, error) {
	if c.idleTimeout > 0 {
		_ = c.netConn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
	payload, err := readFrame(c.netConn, MaxFrameSize)
	if err == ErrFrameTooLarge {
		metrics.FramedFramesRejected.WithLabelValues("oversized").Inc()
	}
	return payload, err
}

// writeEnvelope seals (when encryption was negotiated) and writes one
// outbound envelope. Used for both command responses and events.
func (c *conn) writeEnvelope(env wire.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.writeSealed(raw)
}

func (c *conn) writeError(requestID string, err error) {
	frame := wire.NewErrorFrame(requestID, err)
	raw, merr := json.Marshal(frame)
	if merr != nil {
		return
	}
	_ = c.writeSealed(raw)
}

func (c *conn) writeSealed(plaintext []byte) error {
	if c.cipher == nil {
		return c.writeRaw(plaintext)
	}
	sealed, err := c.cipher.Seal(plaintext)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sealed)
	if err != nil {
		return err
	}
	return c.writeRaw(raw)
}

func (c *conn) writeRaw(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.netConn, payload)
}

// syncSubscription registers the session with the dispatcher the moment a
// register/login/authenticate succeeds, and starts the event pump. A logout
// clears the session; teardown handles the unsubscribe.
func (c *conn) syncSubscription(ctx context.Context, wasAuthed bool) {
	nowAuthed := c.sess.UserID != ""
	switch {
	case !wasAuthed && nowAuthed:
		c.state = stateReady
		c.sub = command.Subscribe(ctx, c.router.Engine.Dispatcher(), c.sess.SessionID, c.sess.UserID, c.router.Protocol)
		go c.pumpEvents(ctx)
	case wasAuthed && !nowAuthed:
		if c.sub != nil {
			c.sub.Close(ctx)
			c.sub = nil
		}
		c.state = stateAuthenticating
	}
}

// pumpEvents forwards dispatched events onto the wire. It exits when the
// subscription's channel closes (unregister) or a write fails.
func (c *conn) pumpEvents(ctx context.Context) {
	sub := c.sub
	for ev := range sub.Events() {
		env, err := wire.EncodeEvent(ev)
		if err != nil {
			logging.Error(ctx, "framed: encode event failed", zap.String("kind", string(ev.Kind)))
			continue
		}
		if err := c.writeEnvelope(env); err != nil {
			_ = c.netConn.Close()
			return
		}
		if sub.Degraded() {
			_ = c.netConn.Close()
			return
		}
	}
}

func (c *conn) teardown(ctx context.Context) {
	if c.sub != nil {
		c.sub.Close(ctx)
		c.sub = nil
	}
	_ = c.netConn.Close()
}

func (c *conn) remoteIP() string {
	host, _, err := net.SplitHostPort(c.netConn.RemoteAddr().String())
	if err != nil {
		return c.netConn.RemoteAddr().String()
	}
	return host
}
