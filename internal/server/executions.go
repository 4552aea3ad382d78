package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
)

func (s *Server) GetExecution(c *gin.Context) {
	exec, err := s.executionSvc.FetchStatus(c.Request.Context(), c.Param("subject_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": exec})
}

func (s *Server) ListExecutions(c *gin.Context) {
	pageSize, err := parseOptionalInt32(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page size"))
		return
	}

	resp, err := s.executionSvc.List(c.Request.Context(), execdomain.ListRequest{
		Status:      strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		SubjectKind: strings.TrimSpace(c.Query("subject_kind")),
		PageToken:   strings.TrimSpace(c.Query("page_token")),
		PageSize:    pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Executions, "page_info": resp.PageInfo})
}
