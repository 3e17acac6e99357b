package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	domainerrors "easypay.backend/internal/domain/errors"
	"easypay.backend/internal/interfaces/http/response"
	"easypay.backend/internal/usecases"
	"easypay.backend/pkg/crypto"
)

const APIKeyHeader = "X-API-Key"

// APIKeyAuthMiddleware authenticates merchants by X-API-Key against the
// configured bcrypt hashes. The matched key id is placed in the context for
// rate limiting and audit attribution. An empty key set disables auth (dev
// mode); production deployments always configure keys.
func APIKeyAuthMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}

		presented := c.GetHeader(APIKeyHeader)
		if presented == "" {
			response.Error(c, domainerrors.Authentication("missing API key"))
			return
		}

		for keyID, hash := range keys {
			if crypto.CheckAPIKey(presented, hash) {
				c.Set(usecases.CtxAPIKeyID, keyID)
				ctx := context.WithValue(c.Request.Context(), usecases.CtxAPIKeyID, keyID)
				c.Request = c.Request.WithContext(ctx)
				c.Next()
				return
			}
		}

		response.Error(c, domainerrors.Authentication("invalid API key"))
	}
}
