package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/equimed/catalog-importer/internal/logger"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys []string
}

// validateAPIKey checks the presented key against the configured set
func validateAPIKey(authHeader string, cfg AuthConfig) error {
	if len(cfg.APIKeys) == 0 {
		return errors.New("no API keys configured")
	}
	if authHeader == "" {
		return errors.New("missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "apikey") {
		return errors.New("invalid Authorization header format")
	}

	for _, key := range cfg.APIKeys {
		if key != "" && key == parts[1] {
			return nil
		}
	}
	return errors.New("invalid API key")
}

// Auth returns a gin middleware enforcing API key authentication
// ("Authorization: APIKey <key>")
func Auth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := validateAPIKey(c.GetHeader("Authorization"), cfg); err != nil {
			logger.Warn("Authentication failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication failed",
			})
			return
		}

		logger.Debug("API Key authentication successful",
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
		)
		c.Next()
	}
}
