// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements worker authentication for the ingest and coordination
// endpoints. Collector workers present a shared token plus their worker ID;
// the middleware verifies the token and stores the worker identity in the Gin
// context for handlers, logging, and rate-limit keying.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// workerIDKey is the Gin context key carrying the authenticated worker ID.
	workerIDKey = "workerID"
	// workerTokenHeader carries the shared worker token.
	workerTokenHeader = "X-Worker-Token"
	// workerIDHeader carries the caller's self-assigned worker identity.
	workerIDHeader = "X-Worker-ID"
)

// WorkerAuth returns a Gin middleware that authenticates collector workers.
//
// The token is accepted from X-Worker-Token or an Authorization bearer and
// compared in constant time. A request without a valid token gets a 401; a
// valid request must also name its worker via X-Worker-ID, else 400. An empty
// expected token disables authentication (local development), but the worker
// ID header is still required on routes that use WorkerID().
func WorkerAuth(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected != "" {
			got := c.GetHeader(workerTokenHeader)
			if got == "" {
				if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					got = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"request_id": c.Writer.Header().Get("X-Request-ID"),
					"code":       "unauthorized",
					"message":    "invalid worker token",
				})
				return
			}
		}

		wid := strings.TrimSpace(c.GetHeader(workerIDHeader))
		if wid == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "missing_worker_id",
				"message":    "X-Worker-ID header is required",
			})
			return
		}
		c.Set(workerIDKey, wid)
		c.Next()
	}
}

// WorkerID returns the authenticated worker identity set by WorkerAuth,
// empty when the request did not pass through it.
func WorkerID(c *gin.Context) string {
	if v, ok := c.Get(workerIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
