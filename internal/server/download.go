package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	deliverydomain "github.com/mixforge/mixforge/internal/delivery/domain"
	"github.com/mixforge/mixforge/internal/observability/logger"
	"go.uber.org/zap"
)

func (s *Server) DownloadInfo(c *gin.Context) {
	jobID, err := parseIDParam(c, "jobId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	info, err := s.deliverySvc.Info(c.Request.Context(), userIDFromContext(c), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func (s *Server) DownloadSingle(c *gin.Context) {
	jobID, err := parseIDParam(c, "jobId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out, err := s.deliverySvc.Single(c.Request.Context(), userIDFromContext(c), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.FileAttachment(out.Path, out.Filename)
}

type downloadBatchRequest struct {
	OutputIDs []string `json:"outputIds"`
}

func (s *Server) DownloadBatch(c *gin.Context) {
	jobID, err := parseIDParam(c, "jobId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req downloadBatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	outputIDs, err := parseOutputIDs(req.OutputIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	archive, err := s.deliverySvc.Batch(c.Request.Context(), userIDFromContext(c), jobID, outputIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.streamArchive(c, archive)
}

func (s *Server) DownloadChunk(c *gin.Context) {
	jobID, err := parseIDParam(c, "jobId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	chunkIndex, err := queryIntAlias(c, "chunkIndex", "chunk", -1)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	chunkSize, err := queryIntAlias(c, "chunkSize", "size", 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	archive, err := s.deliverySvc.Chunk(c.Request.Context(), userIDFromContext(c), jobID, chunkIndex, chunkSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.streamArchive(c, archive)
}

// streamArchive writes the ZIP straight to the response. Headers go out
// before the first file, so stream errors terminate the body mid-flight
// rather than producing an error status.
func (s *Server) streamArchive(c *gin.Context, archive deliverydomain.Archive) {
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.Name))
	c.Status(http.StatusOK)

	if err := s.deliverySvc.Stream(c.Request.Context(), c.Writer, archive); err != nil {
		if !c.Writer.Written() {
			AbortWithError(c, err)
			return
		}
		logger.FromContext(c.Request.Context()).Warn("archive stream aborted",
			zap.String("archive", archive.Name), zap.Error(err))
	}
}

func parseOutputIDs(raw []string) ([]snowflake.ID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]snowflake.ID, 0, len(raw))
	for _, v := range raw {
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || parsed == 0 {
			return nil, newValidationError("outputIds", "invalid_id", "invalid identifier")
		}
		ids = append(ids, snowflake.ID(parsed))
	}
	return ids, nil
}

func queryIntAlias(c *gin.Context, name, alias string, def int) (int, error) {
	if strings.TrimSpace(c.Query(name)) != "" {
		return queryInt(c, name, def)
	}
	return queryInt(c, alias, def)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, newValidationError(name, "invalid_number", "invalid number")
	}
	return parsed, nil
}
