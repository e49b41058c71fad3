package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	statsdomain "github.com/smallbiznis/coinpulse/internal/stats/domain"
)

func (s *Server) GetDailyStats(c *gin.Context) {
	filter, err := s.statsFilter(c, dayRange)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.statsSvc.DailyStats(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetHourlyProfile(c *gin.Context) {
	filter, err := s.statsFilter(c, dayRange)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.statsSvc.HourlyProfile(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetTopMachines(c *gin.Context) {
	filter, err := s.statsFilter(c, instantRange)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	n, err := parseOptionalInt(c.Query("n"))
	if err != nil {
		AbortWithError(c, statsdomain.ErrInvalidLimit)
		return
	}
	limit := statsdomain.DefaultTopMachines
	if n != nil {
		limit = *n
	}

	resp, err := s.statsSvc.TopMachinesByRevenue(c.Request.Context(), limit, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRegionTrend(c *gin.Context) {
	filter, err := s.statsFilter(c, instantRange)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.statsSvc.RegionTrend(c.Request.Context(), filter.Start, filter.End)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetMachineCounters(c *gin.Context) {
	ctx := c.Request.Context()

	machine, err := s.statsSvc.LookupMachine(ctx, c.Param("machine"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	counters, err := s.counterSvc.Get(ctx, machine.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"machine_code": machine.Code,
		"counters":     counters,
	})
}
