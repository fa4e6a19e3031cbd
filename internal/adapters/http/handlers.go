package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dkeye/chatcore/internal/adapters/signal"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	deps         Deps
	historyLimit int
}

type LoginRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type LoginResponse struct {
	Success bool            `json:"success"`
	User    domain.Identity `json:"user"`
	Token   string          `json:"token"`
}

func (h *handlers) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	identity, err := h.deps.Users.GuestLogin(c.Request.Context(), req.Username, req.DisplayName)
	switch {
	case errors.Is(err, domain.ErrUsernameEmpty):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username is required"})
		return
	case errors.Is(err, domain.ErrUsernameTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username too long"})
		return
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to login"})
		return
	}

	token, err := h.deps.Tokens.Issue(int64(identity.ID), identity.Username)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to login"})
		return
	}

	session := sessions.Default(c)
	session.Set(signal.SessionUserKey, int64(identity.ID))
	if err := session.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to login"})
		return
	}
	log.Info().Str("module", "adapters.http").Int64("user", int64(identity.ID)).Str("username", identity.Username).Msg("login")
	c.JSON(http.StatusOK, LoginResponse{Success: true, User: identity, Token: token})
}

// logout only drops the cookie session. The persisted online flag follows
// live websocket connections, not the session.
func (h *handlers) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("clear session")
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) rooms(c *gin.Context) {
	rooms, err := h.deps.Orch.Rooms(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rooms"})
		return
	}
	if rooms == nil {
		rooms = []domain.RoomSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *handlers) messages(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	msgs, err := h.deps.Messages.RecentMessages(c.Request.Context(), room, h.historyLimit)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Int64("room", int64(room)).Msg("fetch messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}
	out := make([]domain.NewMessageEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.MessageEvent(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func (h *handlers) onlineUsers(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	users := h.deps.Orch.ListOnline(room)
	if users == nil {
		users = []domain.Identity{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func roomParam(c *gin.Context) (domain.RoomID, bool) {
	id, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return 0, false
	}
	return domain.RoomID(id), true
}
