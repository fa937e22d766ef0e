package identity

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxAccountClaims = "certledger_account_claims"

// RequireAccount returns a Gin middleware that enforces a valid Bearer account token.
//
// On success it injects the *AccountClaims into the context.
func RequireAccount(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
				"code":  "unauthorized",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
				"code":  "unauthorized",
			})
			return
		}

		c.Set(ctxAccountClaims, claims)
		c.Next()
	}
}

// OptionalAccount tries to parse a Bearer account token. Unlike
// RequireAccount, it never aborts.
func OptionalAccount(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			if claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer ")); err == nil {
				c.Set(ctxAccountClaims, claims)
			}
		}
		c.Next()
	}
}

// RequireScope aborts with 403 unless the token injected by RequireAccount
// carries scope. It must run after RequireAccount.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasScope(ClaimsFromCtx(c), scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "token lacks required scope " + scope,
				"code":  "insufficient_scope",
			})
			return
		}
		c.Next()
	}
}

// ClaimsFromCtx retrieves the claims injected by RequireAccount or OptionalAccount.
func ClaimsFromCtx(c *gin.Context) *AccountClaims {
	v, _ := c.Get(ctxAccountClaims)
	claims, _ := v.(*AccountClaims)
	return claims
}

// AccountFromCtx returns the authenticated account id, or "" if none.
func AccountFromCtx(c *gin.Context) string {
	if claims := ClaimsFromCtx(c); claims != nil {
		return claims.Account
	}
	return ""
}

// HasScope checks whether the claims contain the requested scope.
func HasScope(claims *AccountClaims, scope string) bool {
	return claims != nil && slices.Contains(claims.Scopes, scope)
}
