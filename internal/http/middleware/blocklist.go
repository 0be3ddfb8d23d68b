// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides Blocklist, which rejects requests from IPs the abuse
// tracker has permanently blocked before any form parsing happens.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// BlockChecker is the subset of the abuse tracker the middleware needs.
type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
}

// Blocklist returns a middleware that aborts blocked senders with 403.
//
// Tracker errors fail open: a broken Redis connection must not take the
// contact form down, the fixed-window limiter still bounds the damage.
func Blocklist(checker BlockChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		blocked, err := checker.IsBlocked(c.Request.Context(), ip)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("remote_ip", ip).Msg("blocklist lookup failed, allowing request")
			c.Next()
			return
		}
		if blocked {
			LoggerFrom(c).Info().Str("remote_ip", ip).Msg("blocked sender rejected")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "forbidden",
				"message":    "submissions from this address are not accepted",
			})
			return
		}
		c.Next()
	}
}
