package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	statsdomain "github.com/smallbiznis/coinpulse/internal/stats/domain"
)

// rangeMode decides what a bare date means as the end of a range.
type rangeMode int

const (
	// instantRange treats a bare end date as exclusive, so end=2024-03-15
	// stops at 2024-03-16T00:00 local time.
	instantRange rangeMode = iota
	// dayRange keeps a bare end date on its own day; the stats layer counts
	// it inclusively.
	dayRange
)

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseSnowflakeID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid_snowflake_id")
	}
	return parsed, nil
}

// parseOptionalTime accepts RFC3339 or a YYYY-MM-DD date interpreted in loc.
func parseOptionalTime(value string, loc *time.Location, endOfRange bool, mode rangeMode) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if parsed, err := time.ParseInLocation(eventdomain.DateLayout, trimmed, loc); err == nil {
		if endOfRange && mode == instantRange {
			parsed = parsed.AddDate(0, 0, 1)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

// statsFilter reads machine, region, city, start and end from the query.
func (s *Server) statsFilter(c *gin.Context, mode rangeMode) (statsdomain.Filter, error) {
	start, err := parseOptionalTime(c.Query("start"), s.loc, false, mode)
	if err != nil {
		return statsdomain.Filter{}, newValidationError("start", "invalid_start", "start must be RFC3339 or YYYY-MM-DD")
	}
	end, err := parseOptionalTime(c.Query("end"), s.loc, true, mode)
	if err != nil {
		return statsdomain.Filter{}, newValidationError("end", "invalid_end", "end must be RFC3339 or YYYY-MM-DD")
	}

	return statsdomain.Filter{
		Machine: strings.TrimSpace(c.Query("machine")),
		Region:  strings.TrimSpace(c.Query("region")),
		City:    strings.TrimSpace(c.Query("city")),
		Start:   start,
		End:     end,
	}, nil
}
