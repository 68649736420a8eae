package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// operatorClaims are the JWT claims issued to operators of the execution
// core. There are no user accounts: a single shared operator key is
// exchanged for a short-lived token.
type operatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func generateToken(secret string, expiresAt time.Time) (string, error) {
	claims := operatorClaims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) error {
	token, err := jwt.ParseWithClaims(tokenStr, &operatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if claims, ok := token.Claims.(*operatorClaims); !ok || !token.Valid || claims.Role != "operator" {
		return errors.New("invalid token claims")
	}
	return nil
}

// AuthMiddleware enforces bearer-token auth on mutating routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}
		if err := parseToken(parts[1], secret); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}
		c.Next()
	}
}

// issueToken exchanges the operator key for a JWT.
func (s *Server) issueToken(c *gin.Context) {
	var req struct {
		OperatorKey string `json:"operator_key"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if s.OperatorKey == "" ||
		subtle.ConstantTimeCompare([]byte(req.OperatorKey), []byte(s.OperatorKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_CREDENTIALS",
			"error": "invalid operator key",
		})
		return
	}

	expiresAt := time.Now().Add(24 * time.Hour)
	token, err := generateToken(s.JWTSecret, expiresAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}
