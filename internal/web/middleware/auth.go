package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	webModels "github.com/austin-smith/fusion-bridge-sub010/internal/web/models"
)

// SubjectKey holds the token subject in the gin context
const SubjectKey = "subject"

// RequireAuth checks an HS256 bearer token. The token may also be passed as
// the access_token query parameter for websocket clients.
func (m *MiddlewareManager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(m.jwtSecret) == 0 {
			c.Next()
			return
		}
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" {
			raw = c.Query("access_token")
		}
		subject, err := m.validateToken(raw)
		if err != nil {
			m.logger.Debug().Err(err).Msg("authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, webModels.ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Set(SubjectKey, subject)
		c.Next()
	}
}

func (m *MiddlewareManager) validateToken(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("missing token")
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return m.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	return token.Claims.GetSubject()
}
