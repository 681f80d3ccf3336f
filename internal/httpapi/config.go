package httpapi

import "time"

// maxBodyBytes bounds JSON request bodies. Recipes are small; 1 MiB is plenty.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes sets the maximum request body size (non-positive restores 1 MiB).
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// waitTimeout bounds how long a ?wait=1 request blocks for its job.
var waitTimeout = 5 * time.Minute

// SetWaitTimeout sets the ?wait=1 limit (non-positive restores 5m).
func SetWaitTimeout(d time.Duration) {
	if d <= 0 {
		waitTimeout = 5 * time.Minute
		return
	}
	waitTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS for browser front ends served from another origin.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
