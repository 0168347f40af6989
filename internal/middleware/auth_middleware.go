package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims are the claims the booking platform issues to its callers. The
// caller type distinguishes the booking backend ("service") from admin tools
// ("admin").
type JWTClaims struct {
	CallerID   string `json:"caller_id"`
	CallerType string `json:"caller_type"`
	jwt.RegisteredClaims
}

// AuthRequired validates the bearer token and sets caller context.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required"})
			c.Abort()
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			c.Abort()
			return
		}

		c.Set("caller_id", claims.CallerID)
		c.Set("caller_type", claims.CallerType)

		c.Next()
	}
}

// AdminRequired ensures the caller is an admin tool.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		callerType, exists := c.Get("caller_type")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Caller type not found"})
			c.Abort()
			return
		}

		callerTypeStr, ok := callerType.(string)
		if !ok || callerTypeStr != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}

		c.Next()
	}
}
