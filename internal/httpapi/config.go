package httpapi

import "time"

const defaultMaxBodyBytes int64 = 1 << 20

// maxBodyBytes caps JSON request bodies.
var maxBodyBytes = defaultMaxBodyBytes

// SetMaxBodyBytes configures the maximum request body size; n <= 0 restores 1 MiB.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// completionTimeout bounds one chat completion including streaming; 0 disables it.
var completionTimeout time.Duration

// SetCompletionTimeout sets the per-request completion timeout (0 disables).
func SetCompletionTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	completionTimeout = d
}

// readyWait is how long GET /readyz waits on a facade build before reporting "loading".
var readyWait = 250 * time.Millisecond

// SetReadyWait configures how long /readyz blocks on an in-flight build.
func SetReadyWait(d time.Duration) {
	if d < 0 {
		d = 0
	}
	readyWait = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
