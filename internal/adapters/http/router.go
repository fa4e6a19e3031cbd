package http

import (
	"context"
	"time"

	"github.com/dkeye/chatcore/internal/adapters/signal"
	"github.com/dkeye/chatcore/internal/app/orch"
	"github.com/dkeye/chatcore/internal/auth"
	"github.com/dkeye/chatcore/internal/config"
	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Users is the login side of the user store.
type Users interface {
	GuestLogin(ctx context.Context, username, displayName string) (domain.Identity, error)
}

type Deps struct {
	Orch     *orch.Orchestrator
	Users    Users
	Messages core.MessageStore
	Tokens   *auth.TokenManager
	Auth     core.Authenticator
	Limiter  *signal.MessageRateLimiter
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int((7 * 24 * time.Hour).Seconds()), HttpOnly: true})
	r.Use(sessions.Sessions("chat_session", store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{deps: deps, historyLimit: cfg.History.Limit}

	api := r.Group("/api")
	api.POST("/login", h.login)
	api.POST("/logout", h.logout)
	api.GET("/rooms", h.rooms)
	api.GET("/messages/:room_id", h.messages)
	api.GET("/online-users/:room_id", h.onlineUsers)

	ctrl := signal.NewSignalWSController(deps.Orch, deps.Auth, deps.Limiter, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})
	r.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
