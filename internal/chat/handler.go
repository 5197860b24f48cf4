package chat

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/classpoll/pkg/response"
)

const maxRecentLimit = 100

// Handler serves the chat history endpoint.
type Handler struct {
	log          *Log
	defaultLimit int
	logger       *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(log *Log, defaultLimit int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{log: log, defaultLimit: defaultLimit, logger: logger}
}

// Recent handles GET /chat/recent?limit=N.
func (h *Handler) Recent(c *gin.Context) {
	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRecentLimit {
			response.BadRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	list, err := h.log.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("recent chat", zap.Error(err))
		response.Internal(c, "failed to fetch messages")
		return
	}
	response.OK(c, list)
}
