package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var (
	// ErrOriginsRequired is returned when production runs without an explicit origin list
	ErrOriginsRequired = errors.New("CORS_ALLOWED_ORIGINS must be set in production")
	// ErrWildcardOrigin is returned when production is configured with "*"
	ErrWildcardOrigin = errors.New("CORS_ALLOWED_ORIGINS must not contain * in production")
)

// SessionHeader is the request header carrying a session id
const SessionHeader = "X-Session-ID"

// SetupCORS configures CORS middleware with environment-specific settings
func SetupCORS(origins string, production bool) (gin.HandlerFunc, error) {
	allowOrigins, err := allowedOrigins(origins, production)
	if err != nil {
		return nil, err
	}

	cfg := cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", SessionHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// Credentials cannot be combined with a wildcard origin.
	if hasWildcard(allowOrigins) {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cors.New(cfg), nil
}

func allowedOrigins(origins string, production bool) ([]string, error) {
	parsed := parseOrigins(origins)
	if production {
		switch {
		case len(parsed) == 0:
			return nil, ErrOriginsRequired
		case hasWildcard(parsed):
			return nil, ErrWildcardOrigin
		}
	}
	if len(parsed) == 0 {
		return []string{"*"}, nil
	}
	return parsed, nil
}

func hasWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	var result []string

	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
