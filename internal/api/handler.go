// Package api serves the HTTP side of the chat: match requests for clients
// that are not (yet) on the socket, and read access to the room history.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/chatkool/chat-app/internal/chat"
	"github.com/chatkool/chat-app/internal/logging"
	"github.com/chatkool/chat-app/internal/matching"
	"github.com/chatkool/chat-app/internal/relay"
	"github.com/chatkool/chat-app/internal/storage"
)

const maxMessageLimit = storage.MaxStoredMessages

// Matcher runs match requests. *relay.Relay implements it.
type Matcher interface {
	RequestMatch(identity string) (matching.MatchResult, error)
}

// Repository is the read side of the room store.
type Repository interface {
	ListRooms(ctx context.Context) ([]chat.Room, error)
	GetMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
}

// Transcripts gives the in-memory history of active rooms.
type Transcripts interface {
	Recent(roomID string, limit int) ([]chat.Message, bool)
}

// Handler holds the HTTP handlers.
type Handler struct {
	matcher     Matcher
	repo        Repository
	transcripts Transcripts
	log         zerolog.Logger
}

// NewHandler builds a Handler. transcripts may be nil.
func NewHandler(matcher Matcher, repo Repository, transcripts Transcripts, log zerolog.Logger) *Handler {
	return &Handler{matcher: matcher, repo: repo, transcripts: transcripts, log: log}
}

// RegisterRoutes mounts the /api routes on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.POST("/random-chat", h.RandomChat)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:roomId/messages", h.GetMessages)
	}
}

type randomChatRequest struct {
	Username string `json:"username" binding:"required"`
}

type randomChatResponse struct {
	Matched     bool       `json:"matched"`
	Room        *chat.Room `json:"room,omitempty"`
	MatchedUser string     `json:"matchedUser,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// RandomChat pairs the posted username with a waiting identity, or queues
// it.
func (h *Handler) RandomChat(c *gin.Context) {
	var req randomChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Username required"})
		return
	}
	identity := relay.NormalizeIdentity(req.Username)
	if err := relay.ValidateIdentity(identity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Username must be 1-20 characters"})
		return
	}

	res, err := h.matcher.RequestMatch(identity)
	switch {
	case errors.Is(err, matching.ErrAlreadyInRoom):
		c.JSON(http.StatusConflict, gin.H{"message": "Already in a room"})
		return
	case err != nil:
		h.log.Error().Err(err).Str(logging.FieldIdentity, identity).Msg("random chat")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}

	if !res.Matched {
		c.JSON(http.StatusOK, randomChatResponse{Message: "Waiting for another user..."})
		return
	}
	c.JSON(http.StatusOK, randomChatResponse{Matched: true, Room: res.Room, MatchedUser: res.Partner})
}

// ListRooms returns every known room, newest first.
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.repo.ListRooms(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}
	if rooms == nil {
		rooms = []chat.Room{}
	}
	c.JSON(http.StatusOK, rooms)
}

// GetMessages returns the last messages of a room, oldest first. Active
// rooms fall back to their in-memory transcript when the store fails.
func (h *Handler) GetMessages(c *gin.Context) {
	roomID := c.Param("roomId")

	limit := storage.DefaultMessageLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxMessageLimit)
	}

	msgs, err := h.repo.GetMessages(c.Request.Context(), roomID, limit)
	if err == nil {
		if msgs == nil {
			msgs = []chat.Message{}
		}
		c.JSON(http.StatusOK, msgs)
		return
	}

	if h.transcripts != nil {
		if recent, ok := h.transcripts.Recent(roomID, limit); ok {
			h.log.Warn().Err(err).Str(logging.FieldRoomID, roomID).Msg("get messages, serving transcript")
			c.JSON(http.StatusOK, recent)
			return
		}
	}
	h.log.Error().Err(err).Str(logging.FieldRoomID, roomID).Msg("get messages")
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
}

// NewRouter returns a gin engine with recovery, request logging and the
// handler's routes.
func NewRouter(h *Handler, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	h.RegisterRoutes(r)
	return r
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
