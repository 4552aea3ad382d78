package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type changeSubjectStatusRequest struct {
	Status string `json:"status"`
}

// ChangeSubjectStatus feeds an order status change into the dispatcher, the
// same path the Kafka consumer takes.
func (s *Server) ChangeSubjectStatus(c *gin.Context) {
	var req changeSubjectStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Status) == "" {
		AbortWithError(c, newValidationError("status", "required", "status is required"))
		return
	}

	outcome, err := s.dispatcherSvc.OnSubjectStatusChanged(c.Request.Context(), c.Param("id"), strings.ToUpper(strings.TrimSpace(req.Status)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": outcome})
}
