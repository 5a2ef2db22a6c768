package auth

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"github.com/luminahq/research-server/internal/errors"
)

// WorkerSecretHeader carries the static shared secret workers authenticate
// with. It is distinct from end-user bearer tokens: worker endpoints never
// accept end-user credentials and vice versa.
const WorkerSecretHeader = "X-Worker-Secret"

// RequireWorkerSecret authenticates worker requests with a constant-time
// comparison of the shared secret. A server running without a configured
// secret refuses all worker requests; startup validation should have caught
// that before any traffic arrives.
func RequireWorkerSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			errors.AbortWithInternal(c, "Worker authentication is not configured", nil)
			return
		}

		provided := c.GetHeader(WorkerSecretHeader)
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			errors.AbortWithUnauthorized(c, "Invalid worker secret", nil)
			return
		}

		c.Next()
	}
}
