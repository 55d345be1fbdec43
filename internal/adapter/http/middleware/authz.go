package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesnjugunah/vendorshop/configs"
)

const (
	ctxUserID  = "auth.user_id"
	ctxIsAdmin = "auth.is_admin"
)

type Authz struct {
	secret    []byte
	issuer    string
	audience  string
	adminRole string
}

func NewAuthz(cfg configs.Config) *Authz {
	return &Authz{
		secret:    []byte(cfg.Security.JWTSecret),
		issuer:    cfg.Security.Issuer,
		audience:  cfg.Security.Audience,
		adminRole: cfg.Security.AdminRole,
	}
}

// Require checks the bearer JWT, puts the caller's id (sub) and admin flag
// on the context and ensures all required permissions are present.
func (a *Authz) Require(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}

		raw := strings.TrimPrefix(auth, "Bearer ")
		opts := []jwt.ParserOption{
			jwt.WithLeeway(30 * time.Second), // small clock skew
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		}
		if a.issuer != "" {
			opts = append(opts, jwt.WithIssuer(a.issuer))
		}
		if a.audience != "" {
			opts = append(opts, jwt.WithAudience(a.audience))
		}
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return a.secret, nil
		}, opts...)
		if err != nil || !token.Valid {
			unauth(c, "invalid_token", "invalid jwt")
			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			unauth(c, "invalid_token", "missing subject")
			return
		}

		if !hasAll(extractSet(claims, "perms"), requiredPerms) {
			forbidden(c, "insufficient_scope", "missing required permissions")
			return
		}

		roles := extractSet(claims, "roles")
		if r, ok := claims["role"].(string); ok && r != "" {
			roles[r] = struct{}{}
		}
		_, admin := roles[a.adminRole]

		c.Set(ctxUserID, sub)
		c.Set(ctxIsAdmin, a.adminRole != "" && admin)
		c.Next()
	}
}

// UserID returns the authenticated caller set by Require.
func UserID(c *gin.Context) string { return c.GetString(ctxUserID) }

func IsAdmin(c *gin.Context) bool { return c.GetBool(ctxIsAdmin) }

func extractSet(claims jwt.MapClaims, name string) map[string]struct{} {
	out := map[string]struct{}{}
	if arr, ok := claims[name].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

func hasAll(have map[string]struct{}, req []string) bool {
	for _, r := range req {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

func unauth(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code, "error_description": desc})
}

func forbidden(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": code, "error_description": desc})
}
