package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"rustsentry/internal/logging"
	"rustsentry/internal/models"
	"rustsentry/internal/services"
)

type createSessionRequest struct {
	Code       string `json:"code"`
	SourceName string `json:"source_name"`
}

type createSessionResponse struct {
	ID        string               `json:"id"`
	Status    models.SessionStatus `json:"status"`
	Progress  int                  `json:"progress"`
	CreatedAt time.Time            `json:"created_at"`
}

type listSessionsResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
	Total    int64                   `json:"total"`
}

// PollingConfig is advertised to clients; the server does not enforce it.
type PollingConfig struct {
	IntervalMS int64 `json:"poll_interval_ms"`
	TimeoutMS  int64 `json:"poll_timeout_ms"`
}

// writeError maps service errors onto status codes. Anything unrecognized is a 500
// and its detail stays in the log.
func writeError(c *gin.Context, err error) {
	var verr *services.ValidationError
	var nf *services.NotFoundError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// MaxRequestBytes sizes the CreateSession body limit for a code length limit in
// characters: four bytes per character plus room for JSON escaping and the envelope.
func MaxRequestBytes(maxCodeLength int) int64 {
	return int64(maxCodeLength)*6 + 4096
}

func CreateSession(sessions services.SessionService, maxBodyBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodyBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		sess, err := sessions.CreateSession(c.Request.Context(), req.Code, req.SourceName)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, createSessionResponse{
			ID:        sess.ID,
			Status:    sess.Status,
			Progress:  sess.Progress,
			CreatedAt: sess.CreatedAt,
		})
	}
}

func GetSession(sessions services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logging.WithSessionID(c.Request.Context(), c.Param("id"))
		detail, err := sessions.GetSession(ctx, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

func GetStatus(sessions services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := sessions.GetStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func DeleteSession(sessions services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logging.WithSessionID(c.Request.Context(), c.Param("id"))
		if err := sessions.DeleteSession(ctx, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func ListArtifacts(sessions services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logging.WithSessionID(c.Request.Context(), c.Param("id"))
		list, err := sessions.ListArtifacts(ctx, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func ListSessions(sessions services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "limit")
		if !ok {
			return
		}
		offset, ok := queryInt(c, "offset")
		if !ok {
			return
		}
		items, total, err := sessions.ListSessions(c.Request.Context(), models.ListOptions{
			Limit:  limit,
			Offset: offset,
			Status: models.SessionStatus(c.Query("status")),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		if items == nil {
			items = []models.SessionSummary{}
		}
		c.JSON(http.StatusOK, listSessionsResponse{Sessions: items, Total: total})
	}
}

// QueueDepther reports how many sessions are waiting.
type QueueDepther interface {
	Len() int
}

func HealthCheck(q QueueDepther) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "queue_depth": q.Len()})
	}
}

func GetPollingConfig(cfg PollingConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg)
	}
}
