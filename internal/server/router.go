package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/corkboardhq/corkboard/internal/canvas"
	"github.com/corkboardhq/corkboard/internal/hub"
	"github.com/corkboardhq/corkboard/internal/notes"
	"github.com/corkboardhq/corkboard/internal/presence"
	"github.com/corkboardhq/corkboard/internal/reactions"
)

const userEmailContextKey = "corkboard_user_email"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingNoteStore      = errors.New("note store dependency required")
	errMissingAggregator     = errors.New("reaction aggregator dependency required")
	errMissingTracker        = errors.New("presence tracker dependency required")
	errMissingHub            = errors.New("hub dependency required")
	noOpLogger               = zap.NewNop()
)

// TokenValidator checks a session token and returns the subject email.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}

// Dependencies lists the collaborators the HTTP surface needs.
type Dependencies struct {
	Tokens      TokenValidator
	Notes       *notes.Store
	Reactions   *reactions.Aggregator
	Presence    *presence.Tracker
	Hub         *hub.Hub
	CORSOrigins []string
	Logger      *zap.Logger
}

type httpHandler struct {
	tokens    TokenValidator
	notes     *notes.Store
	reactions *reactions.Aggregator
	presence  *presence.Tracker
	hub       *hub.Hub
	logger    *zap.Logger
}

// NewHTTPHandler wires the REST routes and the workspace event stream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Notes == nil {
		return nil, errMissingNoteStore
	}
	if deps.Reactions == nil {
		return nil, errMissingAggregator
	}
	if deps.Presence == nil {
		return nil, errMissingTracker
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = noOpLogger
	}

	handler := &httpHandler{
		tokens:    deps.Tokens,
		notes:     deps.Notes,
		reactions: deps.Reactions,
		presence:  deps.Presence,
		hub:       deps.Hub,
		logger:    logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(buildCORSConfig(deps.CORSOrigins)))

	router.GET("/healthz", handler.handleHealth)
	// The stream authenticates via query parameter inside its own
	// handler; browsers cannot set headers on websocket upgrades.
	router.GET("/workspaces/:workspace/stream", handler.handleStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/workspaces/:workspace/notes", handler.handleCreateNote)
	protected.GET("/workspaces/:workspace/notes", handler.handleListNotes)
	protected.GET("/workspaces/:workspace/presence", handler.handleWorkspacePresence)
	protected.POST("/workspaces/:workspace/cursor", handler.handleReportCursor)
	protected.GET("/notes/:note", handler.handleGetNote)
	protected.PUT("/notes/:note", handler.handleUpdateNote)
	protected.PUT("/notes/:note/position", handler.handleMoveNote)
	protected.DELETE("/notes/:note", handler.handleDeleteNote)
	protected.GET("/notes/:note/reactions", handler.handleListReactions)
	protected.PUT("/notes/:note/reactions", handler.handleAddReaction)
	protected.DELETE("/notes/:note/reactions", handler.handleRemoveReactionByKind)
	protected.DELETE("/reactions/:reaction", handler.handleRemoveReaction)

	return router, nil
}

func buildCORSConfig(origins []string) cors.Config {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
		return corsConfig
	}
	corsConfig.AllowOrigins = origins
	return corsConfig
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	const bearerPrefix = "Bearer "

	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		h.abortUnauthorized(c)
		return
	}

	subject, err := h.tokens.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	if err != nil {
		h.abortUnauthorized(c)
		return
	}
	userEmail, err := canvas.NewUserEmail(subject)
	if err != nil {
		h.abortUnauthorized(c)
		return
	}

	c.Set(userEmailContextKey, userEmail)
	c.Next()
}

func (h *httpHandler) abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func requestUser(c *gin.Context) canvas.UserEmail {
	value, _ := c.Get(userEmailContextKey)
	userEmail, _ := value.(canvas.UserEmail)
	return userEmail
}

// writeError maps domain errors onto the HTTP surface. A version
// conflict carries the current authoritative note so the client can
// rebase without another round trip.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	var conflict *notes.VersionConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error": "version_conflict",
			"note":  toNotePayload(conflict.Current),
		})
	case errors.Is(err, canvas.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
	case errors.Is(err, notes.ErrNoteNotFound), errors.Is(err, reactions.ErrReactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, reactions.ErrNotReactionOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
	}
}
