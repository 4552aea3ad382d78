package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) InvoiceOrder(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	exec, succeeded, err := s.orderSvc.Trigger(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": executionResponse{Execution: exec, Succeeded: succeeded}})
}

func (s *Server) GetOrderInvoice(c *gin.Context) {
	invoice, err := s.orderSvc.GetByOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}
