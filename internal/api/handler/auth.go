package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reportbot/backend/internal/storage"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

const (
	tokenIssuer = "reportbot-admin"
	adminKey    = "admin"
)

// GenerateToken підписує HS256 токен для адміністратора
func GenerateToken(secret []byte, adminID int64, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("handler: empty jwt secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(adminID, 10),
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseToken returns the admin identity carried in the token.
func parseToken(secret []byte, tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("handler: bad subject %q", claims.Subject)
	}
	return id, nil
}

// bearerToken reads "Authorization: Bearer" or, for browser websockets, ?token=.
func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return c.Query("token")
}

// AuthMiddleware пропускає лише чинних адміністраторів
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
			return
		}

		adminID, err := parseToken(h.Secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}

		// Токен живе довше, ніж права: перевіряємо, що адмін досі існує.
		admin, err := h.Store.GetAdmin(c.Request.Context(), adminID)
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Not an admin"})
			return
		}
		if err != nil {
			log.Errorf("admin lookup for %d failed: %v", adminID, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}

		c.Set(adminKey, admin)
		c.Next()
	}
}
