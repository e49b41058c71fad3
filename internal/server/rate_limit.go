package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/coinpulse/internal/observability/context"
	"github.com/smallbiznis/coinpulse/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonMachineRate = "machine-rate"

type machineIngestRateLimitKey struct {
	MachineID   string `json:"machine_id"`
	MachineCode string `json:"machine_code"`
}

// MachineIngestRateLimit caps how often one machine may report events. The
// body is restored so the handler can bind it again.
func (s *Server) MachineIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		machine, err := readMachineIngestKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("machine ingest rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if machine == "" {
			// The handler rejects the missing machine reference.
			c.Next()
			return
		}

		ctx = obscontext.WithMachine(ctx, machine)
		c.Request = c.Request.WithContext(ctx)

		endpoint := normalizeRateLimitEndpoint(c)
		res, err := s.limiter.AllowMachine(ctx, machine)
		if err != nil {
			logger.FromContext(ctx).Warn("machine ingest rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			s.denyMachineIngest(c, endpoint, rateLimitReasonMachineRate, res.RetryAfter)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Next()
	}
}

func (s *Server) denyMachineIngest(c *gin.Context, endpoint, reason string, retryAfter time.Duration) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("machine ingest rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, reason)

	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func readMachineIngestKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload machineIngestRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}

	if id := strings.TrimSpace(payload.MachineID); id != "" {
		return id, nil
	}
	return strings.TrimSpace(payload.MachineCode), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
