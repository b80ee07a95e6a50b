package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

const CronSecretHeader = "X-Cron-Secret"

// CronAuthMiddleware guards the billing run trigger with a shared secret,
// presented either as X-Cron-Secret or as a bearer token and compared in
// constant time. An empty configured secret (non-production environments)
// disables the check.
func CronAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				presented := r.Header.Get(CronSecretHeader)
				if presented == "" {
					if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
						presented = strings.TrimPrefix(auth, "Bearer ")
					}
				}
				if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
					utils.RespondErrorWithCode(
						w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Invalid cron secret", nil,
					)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
