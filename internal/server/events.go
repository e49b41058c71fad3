package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ingestdomain "github.com/smallbiznis/coinpulse/internal/ingest/domain"
	obscontext "github.com/smallbiznis/coinpulse/internal/observability/context"
	statsdomain "github.com/smallbiznis/coinpulse/internal/stats/domain"
)

type recordEventsRequest struct {
	Events []ingestdomain.RecordEventRequest `json:"events"`
}

func (s *Server) RecordEvent(c *gin.Context) {
	var req ingestdomain.RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OriginIP = c.ClientIP()
	if ref := strings.TrimSpace(req.MachineRef()); ref != "" {
		c.Set("machine", ref)
		c.Request = c.Request.WithContext(obscontext.WithMachine(c.Request.Context(), ref))
	}

	result, err := s.ingestSvc.RecordEvent(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) RecordEvents(c *gin.Context) {
	var req recordEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	originIP := c.ClientIP()
	for i := range req.Events {
		req.Events[i].OriginIP = originIP
	}

	result, err := s.ingestSvc.RecordEvents(c.Request.Context(), req.Events)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListEvents(c *gin.Context) {
	filter, err := s.statsFilter(c, instantRange)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be an integer"))
		return
	}

	q := statsdomain.EventsQuery{
		Filter:    filter,
		PageToken: strings.TrimSpace(c.Query("page_token")),
	}
	if limit != nil {
		q.PageSize = *limit
	}

	page, err := s.statsSvc.EventsInRange(c.Request.Context(), q)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (s *Server) ReprocessEvent(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ingestdomain.ErrInvalidEventID)
		return
	}

	result, err := s.ingestSvc.ReprocessEvent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) DeleteEvent(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ingestdomain.ErrInvalidEventID)
		return
	}

	event, err := s.ingestSvc.SoftDeleteEvent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": event})
}
