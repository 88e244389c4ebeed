package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nfcauth/database"
	"nfcauth/middleware"
	"nfcauth/services"
)

// CardController обрабатывает запросы администрирования карт
type CardController struct {
	cards *services.CardService
}

// NewCardController создает новый экземпляр CardController
func NewCardController(cards *services.CardService) *CardController {
	return &CardController{cards: cards}
}

// Register регистрирует маршруты в защищенной группе
func (c *CardController) Register(group *gin.RouterGroup) {
	group.GET("/cards", c.GetCards)
	group.POST("/cards", c.CreateCard)
	group.PUT("/cards/:id", c.UpdateCard)
	group.DELETE("/cards/:id", c.DeleteCard)
	group.POST("/cards/:id/enable/:enable", c.EnableCard)
	group.GET("/hits", c.GetHits)
	group.GET("/refunds", c.GetRefunds)
}

func respondError(ctx *gin.Context, err error) {
	reason, isFlow := services.ReasonOf(err)
	switch {
	case errors.Is(err, services.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": reason})
	case errors.Is(err, services.ErrMalformedInput):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUIDImmutable):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, database.ErrDuplicate):
		ctx.JSON(http.StatusConflict, gin.H{"error": "Card already exists"})
	case isFlow:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": reason})
	default:
		_ = ctx.Error(err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// GetCards возвращает карты кошельков из токена
func (c *CardController) GetCards(ctx *gin.Context) {
	cards, err := c.cards.GetCards(ctx.Request.Context(), middleware.GetWallets(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, cards)
}

// CreateCard создает карту в кошельке ?wallet= (по умолчанию первый кошелек токена)
func (c *CardController) CreateCard(ctx *gin.Context) {
	wallets := middleware.GetWallets(ctx)
	wallet := ctx.DefaultQuery("wallet", wallets[0])
	owned := false
	for _, w := range wallets {
		if w == wallet {
			owned = true
			break
		}
	}
	if !owned {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "нет доступа к данному кошельку"})
		return
	}

	var dto services.CardDTO
	if err := ctx.ShouldBindJSON(&dto); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	card, err := c.cards.CreateCard(ctx.Request.Context(), wallet, dto)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, card)
}

// UpdateCard изменяет карту
func (c *CardController) UpdateCard(ctx *gin.Context) {
	var dto services.CardDTO
	if err := ctx.ShouldBindJSON(&dto); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	card, err := c.cards.UpdateCard(ctx.Request.Context(), middleware.GetWallets(ctx), ctx.Param("id"), dto)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, card)
}

// EnableCard включает или отключает карту
func (c *CardController) EnableCard(ctx *gin.Context) {
	enable, err := strconv.ParseBool(ctx.Param("enable"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "enable must be true or false"})
		return
	}

	card, err := c.cards.EnableCard(ctx.Request.Context(), middleware.GetWallets(ctx), ctx.Param("id"), enable)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, card)
}

// DeleteCard удаляет карту вместе с историей
func (c *CardController) DeleteCard(ctx *gin.Context) {
	if err := c.cards.DeleteCard(ctx.Request.Context(), middleware.GetWallets(ctx), ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// GetHits возвращает касания карт
func (c *CardController) GetHits(ctx *gin.Context) {
	hits, err := c.cards.GetHits(ctx.Request.Context(), middleware.GetWallets(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, hits)
}

// GetRefunds возвращает возвраты по касаниям карт
func (c *CardController) GetRefunds(ctx *gin.Context) {
	refunds, err := c.cards.GetRefunds(ctx.Request.Context(), middleware.GetWallets(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, refunds)
}
