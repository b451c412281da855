package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orderbridge/internal/authorization"
)

const contextKeyActor = "actor"

type apiKey struct {
	hash  [sha256.Size]byte
	actor string
	role  string
}

// APIKeyRequired authenticates /api calls with a static bearer key. With no
// keys configured the API is open, except in production where every call is
// refused.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.apiKeys) == 0 {
			if s.cfg.IsProduction() {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			c.Next()
			return
		}

		parts := strings.Fields(strings.TrimSpace(c.GetHeader("Authorization")))
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := sha256.Sum256([]byte(parts[1]))
		var actor string
		for _, key := range s.apiKeys {
			if subtle.ConstantTimeCompare(key.hash[:], hash[:]) == 1 {
				actor = key.actor
			}
		}
		if actor == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(contextKeyActor, actor)
		c.Next()
	}
}

// authorize checks the authenticated key's role against object and action.
// Unauthenticated calls only reach here when the API is open.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString(contextKeyActor)
		if s.authz == nil || actor == "" {
			c.Next()
			return
		}
		if err := s.authz.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// parseAPIKeys reads "role:secret" entries. An entry without a known role
// prefix is an operator key.
func parseAPIKeys(entries []string) []apiKey {
	out := make([]apiKey, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		role, secret := authorization.RoleOperator, entry
		if prefix, rest, ok := strings.Cut(entry, ":"); ok && rest != "" {
			switch strings.ToLower(prefix) {
			case authorization.RoleStorefront, authorization.RoleOperator:
				role, secret = strings.ToLower(prefix), rest
			}
		}
		hash := sha256.Sum256([]byte(secret))
		out = append(out, apiKey{
			hash:  hash,
			actor: "api_key:" + hex.EncodeToString(hash[:6]),
			role:  role,
		})
	}
	return out
}
