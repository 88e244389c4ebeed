package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"nfcauth/config"
	"nfcauth/middleware"
)

type AuthController struct {
	validate *validator.Validate
	config   *config.Config
}

type SignInRequest struct {
	Password string   `json:"password" validate:"required,min=8"`
	Wallets  []string `json:"wallets" validate:"omitempty,dive,required"`
}

type SignInResponse struct {
	Token     string   `json:"token"`
	Wallets   []string `json:"wallets"`
	ExpiresAt int64    `json:"expires_at"`
}

var errWalletNotConfigured = errors.New("wallet is not configured")

func NewAuthController(cfg *config.Config) *AuthController {
	return &AuthController{
		validate: validator.New(),
		config:   cfg,
	}
}

// SignIn проверяет пароль администратора и выдает токен на кошельки
func (c *AuthController) SignIn(ctx *gin.Context) {
	var req SignInRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	// Валидация запроса
	if err := c.validate.Struct(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Проверяем пароль
	hash := c.config.Admin.PasswordHash
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	wallets, err := c.resolveWallets(req.Wallets)
	if err != nil {
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	token, expiresAt, err := c.generateToken(wallets)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	ctx.JSON(http.StatusOK, SignInResponse{
		Token:     token,
		Wallets:   wallets,
		ExpiresAt: expiresAt.Unix(),
	})
}

// resolveWallets оставляет только кошельки из конфигурации; пустой запрос - все
func (c *AuthController) resolveWallets(requested []string) ([]string, error) {
	configured := c.config.Payments.WalletKeys
	if len(requested) == 0 {
		wallets := make([]string, 0, len(configured))
		for w := range configured {
			wallets = append(wallets, w)
		}
		if len(wallets) == 0 {
			return nil, errWalletNotConfigured
		}
		return wallets, nil
	}

	wallets := make([]string, 0, len(requested))
	for _, w := range requested {
		w = strings.ToLower(w)
		if _, ok := configured[w]; !ok {
			return nil, errWalletNotConfigured
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

// GetJWTKey возвращает ключ для JWT
func (c *AuthController) GetJWTKey() string {
	return c.config.JWT.SecretKey
}

// generateToken создает JWT токен
func (c *AuthController) generateToken(wallets []string) (string, time.Time, error) {
	now := time.Now()
	expirationTime := now.Add(time.Duration(c.config.JWT.ExpiresIn) * time.Hour)
	claims := &middleware.Claims{
		Wallets: wallets,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(c.config.JWT.SecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expirationTime, nil
}
