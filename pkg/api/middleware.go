package api

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// loggingMiddleware provides structured request logging with a per-request
// id.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		s.logger.Info("HTTP request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

// corsMiddleware configures CORS based on application configuration.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	if !s.config.Cors.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	corsConfig := cors.Config{
		AllowOrigins:     s.config.Cors.AllowedOrigins,
		AllowMethods:     s.config.Cors.AllowedMethods,
		AllowHeaders:     s.config.Cors.AllowedHeaders,
		AllowCredentials: s.config.Cors.AllowCredentials,
		MaxAge:           time.Duration(s.config.Cors.MaxAge) * time.Second,
	}

	// Handle wildcard origins properly
	if len(corsConfig.AllowOrigins) == 1 && corsConfig.AllowOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}

	return cors.New(corsConfig)
}

// securityMiddleware adds security headers.
func (s *Server) securityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// apiKeyMiddleware guards a route group with the static key allow-list. The
// key arrives as ?key=... or in the X-API-Key header; a missing or unknown
// key answers 401.
func (s *Server) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Query("key")
		if key == "" {
			key = c.GetHeader("X-API-Key")
		}
		for _, allowed := range s.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(allowed)) == 1 {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":  "unauthorized",
			"reason": "Invalid api key or key not given. /path?key=yourkey",
		})
	}
}

// rateLimitMiddleware implements rate limiting per IP.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		mu.Lock()
		limiter, exists := limiters[clientIP]
		if !exists {
			limiter = rate.NewLimiter(
				rate.Limit(s.config.RateLimit.RequestsPer)/rate.Limit(s.config.RateLimit.Duration.Seconds()),
				s.config.RateLimit.BurstSize,
			)
			limiters[clientIP] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests, please try again later",
				"retry_after": int(s.config.RateLimit.Duration.Seconds()),
			})
			return
		}

		c.Next()
	}
}

// requestSizeMiddleware limits request body size.
func (s *Server) requestSizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodySize)
		c.Next()
	}
}
