package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/store"
)

const ctxUserKey = "user"

// requestLogger logs one line per request, at warn for 4xx and error for 5xx.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		level := zap.InfoLevel
		switch {
		case status >= 500:
			level = zap.ErrorLevel
		case status >= 400:
			level = zap.WarnLevel
		}
		log.Check(level, "http_request").Write(
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("bytes", c.Writer.Size()),
		)
	}
}

// protect resolves the caller from the request token and loads them from the
// store. Requests without a valid token or for unknown users get 401.
func (h *Handler) protect() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.auth == nil {
			abort(c, http.StatusUnauthorized, "Unauthorized - No token provided")
			return
		}

		userID, err := h.auth.Authenticate(c.Request)
		if err != nil {
			h.log.Debug("Rejected request", zap.String("path", c.Request.URL.Path), zap.Error(err))
			abort(c, http.StatusUnauthorized, "Unauthorized - Invalid token")
			return
		}

		user, err := h.store.GetUser(c.Request.Context(), userID)
		switch {
		case errors.Cause(err) == store.ErrNotFound:
			abort(c, http.StatusUnauthorized, "Unauthorized - User not found")
			return
		case err != nil:
			h.internalError(c, "protect", err)
			return
		}

		c.Set(ctxUserKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) store.User {
	u, _ := c.Get(ctxUserKey)
	user, _ := u.(store.User)
	return user
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

// internalError logs err and answers with a generic 500.
func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.log.Error("Request failed", zap.String("op", op), zap.Error(err))
	abort(c, http.StatusInternalServerError, "Internal server error")
}
