package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type MiddlewareManager struct {
	jwtSecret []byte
	logger    zerolog.Logger
}

// NewMiddlewareManager creates the API middleware. An empty secret turns
// authentication off.
func NewMiddlewareManager(jwtSecret string) *MiddlewareManager {
	return &MiddlewareManager{
		jwtSecret: []byte(jwtSecret),
		logger:    log.With().Str("component", "web").Logger(),
	}
}

// RequestLogger logs one line per request
func (m *MiddlewareManager) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := m.logger.Debug()
		if status >= 500 {
			ev = m.logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
