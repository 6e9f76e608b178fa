package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
)

// pathWithinRoot reports whether path stays under root after normalization,
// so ".." segments cannot register files outside the storage tree.
func pathWithinRoot(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

type progressRequest struct {
	Percent int `json:"percent"`
}

func (s *Server) ReportProgress(c *gin.Context) {
	jobID, err := parseIDParam(c, "jobId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.processingSvc.ReportProgress(c.Request.Context(), jobID, req.Percent); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type addOutputRequest struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

func (s *Server) AddOutput(c *gin.Context) {
	jobID, err := parseIDParam(c, "jobId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req addOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Filename) == "" || strings.TrimSpace(req.Path) == "" {
		AbortWithError(c, newValidationError("filename", "required", "filename and path are required"))
		return
	}
	if root := strings.TrimSpace(s.cfg.StorageDir); root != "" && !pathWithinRoot(root, req.Path) {
		AbortWithError(c, newValidationError("path", "outside_storage_root", "path must be under the storage root"))
		return
	}

	out, err := s.processingSvc.AddOutputFile(c.Request.Context(), jobID, req.Filename, req.Path, req.Size)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, out)
}

type terminalRequest struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

func (s *Server) ReportTerminal(c *gin.Context) {
	jobID, err := parseIDParam(c, "jobId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req terminalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := processingdomain.JobStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if err := s.processingSvc.ReportTerminal(c.Request.Context(), jobID, status, req.ErrorMessage); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
