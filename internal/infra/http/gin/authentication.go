package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/security"
)

const principalContextKey = "marketchat.principal"

type principal struct {
	ID    domainchat.UserID
	Token string
}

// TokenVerifier resolves a bearer token to its subject.
type TokenVerifier interface {
	Subject(token string) (string, error)
}

var _ TokenVerifier = (*security.TokenVerifier)(nil)

// AuthMiddleware attaches the caller to the request when a valid bearer
// token is present. Anonymous requests pass through; handlers decide.
type AuthMiddleware struct {
	Verifier TokenVerifier
	Logger   *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		// Browsers cannot set headers on websocket or EventSource requests.
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" || m.Verifier == nil {
		c.Next()
		return
	}
	subject, err := m.Verifier.Subject(token)
	if err != nil {
		if m.Logger != nil && !errors.Is(err, security.ErrTokenInvalid) {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{ID: domainchat.UserID(subject), Token: token})
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
	c.Request = c.Request.WithContext(appchat.ContextWithUser(c.Request.Context(), p.ID))
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireUser(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
