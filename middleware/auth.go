package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const walletsKey = "wallets"

// Claims содержимое токена администратора
type Claims struct {
	Wallets []string `json:"wallets"`
	jwt.RegisteredClaims
}

// JWTAuth проверяет JWT токен и сохраняет в контексте список кошельков
func JWTAuth(jwtKey []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Получаем токен из заголовка
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header is required",
			})
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		// Парсим и проверяем токен
		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return jwtKey, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}
		if len(claims.Wallets) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token claims",
			})
			return
		}

		c.Set(walletsKey, claims.Wallets)
		c.Next()
	}
}

// GetWallets возвращает кошельки, к которым у запроса есть доступ
func GetWallets(c *gin.Context) []string {
	wallets, _ := c.Get(walletsKey)
	list, _ := wallets.([]string)
	return list
}
