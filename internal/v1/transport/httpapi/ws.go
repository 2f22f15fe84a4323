package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/logging"
	"github.com/lairchat/server/internal/v1/metrics"
	"github.com/lairchat/server/internal/v1/ratelimit"
	"github.com/lairchat/server/internal/v1/transport/command"
	"github.com/lairchat/server/internal/v1/transport/wire"
)

const (
	// wsMaxMessageSize mirrors the framed adapter's payload bound; the
	// WebSocket layer supplies its own framing so no length prefix exists.
	wsMaxMessageSize = 1 << 20

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsOutboundBuffer bounds the per-connection write queue.
	wsOutboundBuffer = 256
)

// wsHandler upgrades GET /ws and runs the shared command table over the
// socket: same JSON envelopes as the framed adapter, no length
// prefix, no AEAD envelope.
type wsHandler struct {
	commands       *command.Router
	limiter        *ratelimit.RateLimiter
	allowedOrigins []string
}

func (h *wsHandler) serve(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.limiter.CheckWebSocket(ctx, c.ClientIP()); err != nil {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{"code": string(apperr.CodeRateLimited), "message": "rate limit exceeded"},
		})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(ctx, "ws: upgrade failed", zap.Error(err))
		return
	}

	wc := &wsConn{
		conn:     conn,
		commands: h.commands,
		limiter:  h.limiter,
		sess:     &command.Session{},
		outbound: make(chan []byte, wsOutboundBuffer),
		done:     make(chan struct{}),
		ip:       c.ClientIP(),
		ua:       c.Request.UserAgent(),
	}

	go wc.writePump()
	wc.readPump(context.Background(), c.Query("token"))
}

// checkOrigin applies the same allow-list the CORS layer uses. Non-browser
// clients without an Origin header are admitted.
func (h *wsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// wsConn is one upgraded connection: the socket, its auth state, its event
// subscription, and the single-writer outbound queue.
type wsConn struct {
	conn     *websocket.Conn
	commands *command.Router
	limiter  *ratelimit.RateLimiter
	sess     *command.Session
	sub      *command.Subscription
	outbound chan []byte
	done     chan struct{}
	once     sync.Once
	ip, ua   string
}

// readPump processes inbound envelopes until the socket closes. token, when
// non-empty, pre-authenticates the connection before any client frame.
func (wc *wsConn) readPump(ctx context.Context, token string) {
	defer wc.teardown(ctx)

	wc.conn.SetReadLimit(wsMaxMessageSize)
	_ = wc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	wc.conn.SetPongHandler(func(string) error {
		return wc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	if token != "" {
		data, _ := json.Marshal(map[string]string{"token": token})
		ctx = wc.dispatch(ctx, wire.Envelope{Type: "authenticate", Data: data})
	}

	for {
		_, raw, err := wc.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = wc.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			wc.sendError("", apperr.New(apperr.CodeContentEmpty, "malformed message"))
			continue
		}
		if env.Type == "typing" {
			wc.commands.HandleTyping(ctx, wc.sess, env.Data)
			continue
		}
		if env.Type == "send_message" && wc.sess.UserID != "" {
			if err := wc.limiter.CheckMessaging(ctx, string(wc.sess.UserID)); err != nil {
				wc.sendError(env.RequestID, apperr.RateLimited(1))
				continue
			}
		}
		ctx = wc.dispatch(ctx, env)

		if env.Type == "logout" {
			return
		}
		if wc.sub != nil && wc.sub.Degraded() {
			metrics.SessionsDegraded.WithLabelValues(string(wc.commands.Protocol)).Inc()
			return
		}
	}
}

// dispatch executes one envelope and returns the context the connection
// should carry forward: on a successful authentication it is stamped with
// the caller's ids for logging.
func (wc *wsConn) dispatch(ctx context.Context, env wire.Envelope) context.Context {
	wasAuthed := wc.sess.UserID != ""
	resp, newSess, err := wc.commands.Dispatch(ctx, wc.sess, env, wc.ip, wc.ua)
	wc.sess = newSess
	if err != nil {
		wc.sendError(env.RequestID, err)
		return ctx
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return ctx
	}
	wc.enqueue(raw)
	if !wasAuthed && wc.sess.UserID != "" {
		ctx = logging.WithCaller(ctx, string(wc.sess.UserID), string(wc.sess.SessionID))
	}
	wc.syncSubscription(ctx, wasAuthed)
	return ctx
}

func (wc *wsConn) syncSubscription(ctx context.Context, wasAuthed bool) {
	nowAuthed := wc.sess.UserID != ""
	switch {
	case !wasAuthed && nowAuthed:
		wc.sub = command.Subscribe(ctx, wc.commands.Engine.Dispatcher(), wc.sess.SessionID, wc.sess.UserID, wc.commands.Protocol)
		go wc.pumpEvents(ctx)
	case wasAuthed && !nowAuthed:
		if wc.sub != nil {
			wc.sub.Close(ctx)
			wc.sub = nil
		}
	}
}

func (wc *wsConn) pumpEvents(ctx context.Context) {
	sub := wc.sub
	for ev := range sub.Events() {
		env, err := wire.EncodeEvent(ev)
		if err != nil {
			logging.Error(ctx, "ws: encode event failed", zap.String("kind", string(ev.Kind)))
			continue
		}
		raw, err := json.Marshal(env)
		if err != nil {
			continue
		}
		wc.enqueue(raw)
		if sub.Degraded() {
			_ = wc.conn.Close()
			return
		}
	}
}

func (wc *wsConn) sendError(requestID string, err error) {
	frame := wire.NewErrorFrame(requestID, err)
	raw, merr := json.Marshal(frame)
	if merr != nil {
		return
	}
	wc.enqueue(raw)
}

func (wc *wsConn) enqueue(raw []byte) {
	select {
	case wc.outbound <- raw:
	case <-wc.done:
	}
}

// writePump is the connection's single writer, per gorilla/websocket's
// one-concurrent-writer contract. It also keeps the connection alive with
// periodic pings.
func (wc *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case raw := <-wc.outbound:
			_ = wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := wc.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				_ = wc.conn.Close()
				return
			}
		case <-ticker.C:
			_ = wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := wc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = wc.conn.Close()
				return
			}
		case <-wc.done:
			return
		}
	}
}

func (wc *wsConn) teardown(ctx context.Context) {
	wc.once.Do(func() {
		if wc.sub != nil {
			wc.sub.Close(ctx)
			wc.sub = nil
		}
		close(wc.done)
		_ = wc.conn.Close()
	})
}
