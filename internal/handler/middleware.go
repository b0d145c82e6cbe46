package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyAuth guards a route group. keys is a comma-separated list of accepted
// keys; an empty list disables the check. The key is read from X-API-Key,
// falling back to a bearer token.
func APIKeyAuth(keys string) gin.HandlerFunc {
	accepted := parseKeys(keys)
	return func(c *gin.Context) {
		if len(accepted) == 0 {
			c.Next()
			return
		}
		provided := requestKey(c.Request)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-API-Key header"})
			return
		}
		if !matchesAny(provided, accepted) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

func parseKeys(keys string) [][]byte {
	var out [][]byte
	for _, k := range strings.Split(keys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, []byte(k))
		}
	}
	return out
}

func requestKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// matchesAny always compares against every key.
func matchesAny(provided string, accepted [][]byte) bool {
	p := []byte(provided)
	ok := 0
	for _, k := range accepted {
		ok |= subtle.ConstantTimeCompare(p, k)
	}
	return ok == 1
}
