package polls

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/classpoll/internal/models"
	"github.com/aura-webinar/classpoll/pkg/response"
	"github.com/aura-webinar/classpoll/pkg/storage"
)

// Handler serves read-only poll endpoints. Poll creation and voting go through the
// realtime session so that every change is broadcast.
type Handler struct {
	manager *Manager
	s3      *storage.S3
	logger  *zap.Logger
}

// NewHandler creates a polls handler. s3 may be nil when archives are disabled.
func NewHandler(manager *Manager, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, s3: s3, logger: logger}
}

// Active handles GET /polls/active.
func (h *Handler) Active(c *gin.Context) {
	p, remaining, err := h.manager.LivePoll(c.Request.Context())
	if err != nil {
		h.logger.Error("get active poll", zap.Error(err))
		response.Internal(c, "failed to get active poll")
		return
	}
	if p == nil {
		response.OK(c, gin.H{"poll": nil})
		return
	}
	response.OK(c, gin.H{"poll": p, "startedAt": p.StartedAt, "timeRemaining": remaining})
}

// History handles GET /polls/history.
func (h *Handler) History(c *gin.Context) {
	list, err := h.manager.GetHistory(c.Request.Context())
	if err != nil {
		h.logger.Error("get poll history", zap.Error(err))
		response.Internal(c, "failed to fetch history")
		return
	}
	response.OK(c, list)
}

// Results handles GET /polls/:id/results.
func (h *Handler) Results(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	res, err := h.manager.GetResults(c.Request.Context(), pollID)
	if errors.Is(err, models.ErrPollNotFound) {
		response.NotFound(c, "poll not found")
		return
	}
	if err != nil {
		h.logger.Error("get poll results", zap.String("poll_id", pollID.String()), zap.Error(err))
		response.Internal(c, "failed to get poll results")
		return
	}
	response.OK(c, res)
}

// ArchiveURL handles GET /polls/:id/archive-url: a pre-signed link to the archived results.
func (h *Handler) ArchiveURL(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "archive storage not configured")
		return
	}
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	ctx := c.Request.Context()
	key := storage.PollArchiveKey(pollID.String())
	if _, err := h.s3.HeadObject(ctx, h.s3.ArchiveBucket(), key); err != nil {
		response.NotFound(c, "archive not found")
		return
	}
	url, err := h.s3.GeneratePresignedDownloadURL(ctx, h.s3.ArchiveBucket(), key, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign archive", zap.String("poll_id", pollID.String()), zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"url": url, "expires_in": int(h.s3.PresignExpire().Seconds())})
}
