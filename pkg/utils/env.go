package utils

import "strings"

// IsProductionEnv reports whether appEnv names a production deployment.
// APP_ENV=prod or production → true, anything else → false.
func IsProductionEnv(appEnv string) bool {
	env := strings.ToLower(strings.TrimSpace(appEnv))
	return env == "prod" || env == "production"
}
