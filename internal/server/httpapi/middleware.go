package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	claimsKey       = "claims"
)

func (s *Server) requestID(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDKey, id)
	c.Header(requestIDHeader, id)
	c.Next()
}

func (s *Server) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()

	s.logger.Info(c.Request.Context(), "request",
		"request_id", c.GetString(requestIDKey),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"latency", time.Since(start).String(),
	)
}

func (s *Server) recovery(c *gin.Context, recovered any) {
	s.logger.Error(c.Request.Context(), "panic", "recovered", recovered, "request_id", c.GetString(requestIDKey))
	writeMessage(c, http.StatusInternalServerError, msgInternal)
}

func (s *Server) deadline(c *gin.Context) {
	if s.requestTimeout <= 0 {
		c.Next()
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// authenticate admits requests that carry a valid access token whose role is
// in roles. No roles admits any authenticated caller.
func (s *Server) authenticate(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader(common.AuthorizationHeaderName))
		if !ok {
			writeMessage(c, http.StatusUnauthorized, msgNoToken)
			return
		}

		claims, err := s.users.VerifyAccess(token)
		if err != nil {
			writeMessage(c, http.StatusUnauthorized, msgInvalidToken)
			return
		}

		if err := s.users.Authorize(claims, roles...); err != nil {
			s.writeError(c, err)
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, common.BearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(common.BearerPrefix):])
	return token, token != ""
}

// claimsFrom returns the claims stored by authenticate.
func claimsFrom(c *gin.Context) (*auth.AccessClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.AccessClaims)
	return claims, ok
}
