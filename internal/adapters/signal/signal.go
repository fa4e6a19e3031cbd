package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/chatcore/internal/app/orch"
	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure     = fmt.Errorf("%w: backpressure", domain.ErrDeliveryFailure)
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", domain.ErrDeliveryFailure)
)

// SessionUserKey is the cookie session key holding the logged in user id.
const SessionUserKey = "user_id"

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Auth    core.Authenticator
	Limiter *MessageRateLimiter
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, auth core.Authenticator, limiter *MessageRateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Auth:    auth,
		Limiter: limiter,
		opts:    opts.withDefaults(),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	// writePump sends the close frame and drops the socket.
	close(c.send)
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// credentials collects the handshake credentials: a bearer token from the
// token query parameter or Authorization header, and the cookie session.
func credentials(c *gin.Context) core.Credentials {
	var creds core.Credentials
	creds.Token = c.Query("token")
	if creds.Token == "" {
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			creds.Token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if v, ok := sessions.Default(c).Get(SessionUserKey).(int64); ok {
		creds.SessionUserID = domain.UserID(v)
	}
	return creds
}

// HandleSignal authenticates, upgrades and starts the pumps. An auth
// failure is answered before the upgrade, so nothing gets registered.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	identity, err := ctl.Auth.ResolveIdentity(c.Request.Context(), credentials(c))
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, domain.ErrAuth) {
			status = http.StatusInternalServerError
		}
		log.Warn().Err(err).Str("module", "signal").Msg("handshake rejected")
		c.AbortWithStatusJSON(status, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := core.ConnectionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(sid)).Str("username", identity.Username).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Orch.Connect(ctx, sid, identity, conn); err != nil && errors.Is(err, domain.ErrDuplicateConnection) {
		cancel()
		_ = ws.Close()
		return
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, identity, conn)
}
