package database

import (
	"context"
	"errors"
	"time"

	"nfcauth/models"
)

var (
	// ErrRecordNotFound запись не найдена
	ErrRecordNotFound = errors.New("record not found")
	// ErrAlreadySpent касание уже оплачено
	ErrAlreadySpent = errors.New("hit already spent")
	// ErrDuplicate запись с таким ключом уже существует
	ErrDuplicate = errors.New("duplicate record")
)

// Store хранилище карт, касаний и возвратов.
// Поиск по uid выполняется в верхнем регистре, по external_id - в нижнем.
type Store interface {
	CreateCard(ctx context.Context, card *models.Card) error
	UpdateCard(ctx context.Context, card *models.Card) error
	GetCard(ctx context.Context, id string) (*models.Card, error)
	GetCardByUID(ctx context.Context, uid string) (*models.Card, error)
	GetCardByExternalID(ctx context.Context, externalID string) (*models.Card, error)
	GetCardByOTP(ctx context.Context, otp string) (*models.Card, error)
	GetCards(ctx context.Context, walletIDs []string) ([]models.Card, error)
	UpdateCardCounter(ctx context.Context, cardID string, counter uint32) error
	SetCardEnabled(ctx context.Context, cardID string, enable bool) (*models.Card, error)
	// RotateOTP атомарно заменяет otp карты, если он равен oldOTP.
	// Возвращает карту с новым otp.
	RotateOTP(ctx context.Context, oldOTP, newOTP string) (*models.Card, error)
	// DeleteCard удаляет возвраты, затем касания, затем саму карту
	DeleteCard(ctx context.Context, cardID string) error

	CreateHit(ctx context.Context, hit *models.Hit) error
	GetHit(ctx context.Context, id string) (*models.Hit, error)
	GetHits(ctx context.Context, cardIDs []string) ([]models.Hit, error)
	GetHitsSince(ctx context.Context, cardID string, since time.Time) ([]models.Hit, error)
	// SpendHit переводит spent false -> true и записывает сумму.
	// Повторный вызов возвращает ErrAlreadySpent.
	SpendHit(ctx context.Context, hitID string, amount int64) (*models.Hit, error)

	// CreateRefund возвращает ErrDuplicate, если возврат с таким id уже записан
	CreateRefund(ctx context.Context, refund *models.Refund) error
	GetRefund(ctx context.Context, id string) (*models.Refund, error)
	GetRefunds(ctx context.Context, hitIDs []string) ([]models.Refund, error)

	// WithCardLock выполняет fn монопольно для карты cardID.
	// fn получает хранилище, привязанное к транзакции, и свежую копию карты.
	WithCardLock(ctx context.Context, cardID string, fn func(tx Store, card *models.Card) error) error
}
