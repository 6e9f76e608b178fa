package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
)

type estimateRequest struct {
	VideoCount int            `json:"videoCount"`
	Settings   map[string]any `json:"settings"`
}

func (s *Server) EstimateProcessing(c *gin.Context) {
	var req estimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.processingSvc.Estimate(c.Request.Context(), processingdomain.EstimateRequest{
		UserID:      userIDFromContext(c),
		VideoCount:  req.VideoCount,
		RawSettings: req.Settings,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type startRequest struct {
	Settings map[string]any `json:"settings"`
}

func (s *Server) StartProcessing(c *gin.Context) {
	projectID, err := parseIDParam(c, "projectId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.processingSvc.Start(c.Request.Context(), processingdomain.StartRequest{
		UserID:      userIDFromContext(c),
		ProjectID:   projectID,
		RawSettings: req.Settings,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("job_id", resp.JobID.String())
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) GetJob(c *gin.Context) {
	jobID, err := parseIDParam(c, "jobId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view, err := s.processingSvc.GetJob(c.Request.Context(), userIDFromContext(c), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) CancelJob(c *gin.Context) {
	jobID, err := parseIDParam(c, "jobId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.processingSvc.Cancel(c.Request.Context(), userIDFromContext(c), jobID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}
