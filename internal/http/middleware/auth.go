// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// BearerAuth guards the bridge with HMAC-signed JWTs. The chat platform
// adapter in front of the bot signs a short-lived token with the shared
// secret; the subject names the calling bridge and is kept for logging.
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const ctxKeyBridgeSubject = "auth.subject"

// BridgeSubject returns the verified token subject, if any.
func BridgeSubject(c *gin.Context) string {
	v, _ := c.Get(ctxKeyBridgeSubject)
	return asString(v)
}

// BearerAuth rejects requests without a valid "Authorization: Bearer <jwt>".
// Only HS256/384/512 are accepted, exp is mandatory and leeway absorbs clock
// skew between the bridge and the bot.
func BearerAuth(secret string, leeway time.Duration) gin.HandlerFunc {
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	)
	keyFn := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return key, nil
	}

	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		var claims jwt.RegisteredClaims
		if _, err := parser.ParseWithClaims(raw, &claims, keyFn); err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			LoggerFrom(c).Warn().Err(err).Msg("bridge token rejected")
			abortUnauthorized(c, msg)
			return
		}

		c.Set(ctxKeyBridgeSubject, claims.Subject)
		if claims.Subject != "" {
			l := LoggerFrom(c).With().Str("bridge", claims.Subject).Logger()
			c.Set(loggerKey, &l)
		}
		c.Next()
	}
}

func bearerToken(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="orderbot"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
