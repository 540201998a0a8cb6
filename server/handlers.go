package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coinhaven/depositd/core"
	"github.com/coinhaven/depositd/webhook"
)

func (s *Server) handleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name := range c.Request.Header {
		headers[name] = c.GetHeader(name)
	}

	resp := s.ingress.Handle(c.Request.Context(), webhook.Request{
		Headers:    headers,
		Body:       body,
		RemoteAddr: c.Request.RemoteAddr,
		RequestID:  c.GetHeader("X-Request-Id"),
	})
	if resp.RetryAfter > 0 {
		seconds := int(resp.RetryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	c.JSON(resp.Status, resp.Body)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	database := "up"
	if s.db != nil {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			database = "down"
		}
	}

	payload := gin.H{
		"status":    "healthy",
		"service":   "depositd",
		"database":  database,
		"timestamp": time.Now().UTC(),
	}
	if status != http.StatusOK {
		payload["status"] = "degraded"
	}
	if counters := s.ingress.Counters(); counters != nil {
		payload["counters"] = counters.Snapshot()
	}
	c.JSON(status, payload)
}

func (s *Server) handleRetryDeadLetter(c *gin.Context) {
	results, err := s.retries.RetryAll(c.Request.Context())
	if err != nil {
		s.logger.Error("manual dead letter drain failed", "error", err.Error())
		mapped := core.PipelineErrorMapper(err)
		c.JSON(mapped.Code, gin.H{
			"success": false,
			"error":   "retry failed",
			"code":    mapped.TextCode,
		})
		return
	}

	processed := 0
	failures := []gin.H{}
	for _, result := range results {
		if result.Success {
			processed++
			continue
		}
		failures = append(failures, gin.H{
			"eventId": result.EventID,
			"error":   result.Error,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processed": processed,
		"errors":    failures,
	})
}

func (s *Server) handleDeadLetterStats(c *gin.Context) {
	stats, err := s.retries.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error("dead letter stats failed", "error", err.Error())
		mapped := core.PipelineErrorMapper(err)
		c.JSON(mapped.Code, gin.H{
			"success": false,
			"error":   "stats unavailable",
			"code":    mapped.TextCode,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"total":          stats.TotalEvents,
			"pending":        stats.PendingEvents,
			"retrying":       stats.RetryingEvents,
			"failed":         stats.FailedEvents,
			"success":        stats.SuccessEvents,
			"expired":        stats.ExpiredEvents,
			"averageRetries": stats.AverageRetries,
			"oldestEvent":    stats.OldestEvent,
		},
	})
}
