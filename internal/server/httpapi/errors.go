package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/gin-gonic/gin"
)

const (
	msgBadRequest         = "Invalid request data"
	msgConflict           = "User already exists"
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidToken       = "Invalid or expired token"
	msgNoToken            = "No token provided"
	msgForbidden          = "Insufficient permissions"
	msgInternal           = "Internal Server Error"
)

func writeMessage(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// writeError maps a service error to a response. Anything unrecognised is
// logged and reported as a bare 500.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrValidation):
		writeMessage(c, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, common.ErrConflict):
		writeMessage(c, http.StatusConflict, msgConflict)
	case errors.Is(err, common.ErrInvalidCredentials):
		writeMessage(c, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, common.ErrInvalidToken):
		writeMessage(c, http.StatusUnauthorized, msgInvalidToken)
	case errors.Is(err, common.ErrForbidden):
		writeMessage(c, http.StatusForbidden, msgForbidden)
	default:
		s.logger.Error(c.Request.Context(), "request failed", "error", err, "path", c.FullPath())
		writeMessage(c, http.StatusInternalServerError, msgInternal)
	}
}

// validationMessage strips the sentinel prefix, leaving the field detail.
func validationMessage(err error) string {
	prefix := common.ErrValidation.Error() + ": "
	msg := err.Error()
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msgBadRequest
}
