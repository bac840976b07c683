package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"wa-video-helper/internal/logging"
	"wa-video-helper/internal/metrics"
)

// AuthConfig configures HTTP basic authentication.
type AuthConfig struct {
	User         string
	PasswordHash string // bcrypt; empty disables authentication
	Realm        string

	// PublicPaths are served without credentials.
	PublicPaths []string
}

// DefaultAuthConfig returns an AuthConfig that leaves health probes public.
func DefaultAuthConfig(user, passwordHash string) AuthConfig {
	return AuthConfig{
		User:         user,
		PasswordHash: passwordHash,
		Realm:        "WhatsApp Video Helper",
		PublicPaths:  []string{"/health", "/healthz", "/livez", "/readyz"},
	}
}

// BasicAuth returns middleware that requires the configured user and password.
// With no password hash it passes every request through.
func BasicAuth(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if config.PasswordHash == "" {
			return next
		}

		hash := []byte(config.PasswordHash)
		challenge := `Basic realm="` + strings.ReplaceAll(config.Realm, `"`, "") + `", charset="UTF-8"`

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range config.PublicPaths {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			user, password, ok := r.BasicAuth()
			if ok {
				userOK := subtle.ConstantTimeCompare([]byte(user), []byte(config.User)) == 1
				// Always run bcrypt so a wrong user costs as much as a wrong password.
				passErr := bcrypt.CompareHashAndPassword(hash, []byte(password))
				if userOK && passErr == nil {
					metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
					next.ServeHTTP(w, r)
					return
				}
				metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
				logging.Warn("Rejected credentials for user %q from %s", sanitizeLogField(user), sanitizeLogField(getClientIP(r)))
			}

			w.Header().Set("WWW-Authenticate", challenge)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}
