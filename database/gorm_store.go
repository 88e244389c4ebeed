package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nfcauth/models"
)

// GormStore реализация Store поверх gorm (PostgreSQL, SQLite)
type GormStore struct {
	db *gorm.DB
}

// NewGormStore создает хранилище поверх подключения gorm
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// time - ключевое слово в PostgreSQL, поэтому колонка передается через clause
var byTime = clause.OrderByColumn{Column: clause.Column{Name: "time"}}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrRecordNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

// Методы для работы с картами

func (s *GormStore) CreateCard(ctx context.Context, card *models.Card) error {
	card.UID = strings.ToUpper(card.UID)
	card.ExternalID = strings.ToLower(card.ExternalID)
	if err := s.conn(ctx).Create(card).Error; err != nil {
		return fmt.Errorf("failed to create card: %w", translate(err))
	}
	return nil
}

func (s *GormStore) UpdateCard(ctx context.Context, card *models.Card) error {
	res := s.conn(ctx).Model(&models.Card{}).Where("id = ?", card.ID).Updates(map[string]interface{}{
		"npub":        card.Npub,
		"card_name":   card.CardName,
		"tx_limit":    card.TxLimit,
		"daily_limit": card.DailyLimit,
		"enable":      card.Enable,
		"k0":          card.K0,
		"k1":          card.K1,
		"k2":          card.K2,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update card: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *GormStore) findCard(ctx context.Context, query string, arg interface{}) (*models.Card, error) {
	var card models.Card
	if err := s.conn(ctx).Where(query, arg).First(&card).Error; err != nil {
		return nil, translate(err)
	}
	return &card, nil
}

func (s *GormStore) GetCard(ctx context.Context, id string) (*models.Card, error) {
	return s.findCard(ctx, "id = ?", id)
}

func (s *GormStore) GetCardByUID(ctx context.Context, uid string) (*models.Card, error) {
	return s.findCard(ctx, "uid = ?", strings.ToUpper(uid))
}

func (s *GormStore) GetCardByExternalID(ctx context.Context, externalID string) (*models.Card, error) {
	return s.findCard(ctx, "external_id = ?", strings.ToLower(externalID))
}

func (s *GormStore) GetCardByOTP(ctx context.Context, otp string) (*models.Card, error) {
	return s.findCard(ctx, "otp = ?", otp)
}

func (s *GormStore) GetCards(ctx context.Context, walletIDs []string) ([]models.Card, error) {
	if len(walletIDs) == 0 {
		return []models.Card{}, nil
	}
	var cards []models.Card
	if err := s.conn(ctx).Where("wallet IN ?", walletIDs).Order(byTime).Find(&cards).Error; err != nil {
		return nil, fmt.Errorf("failed to get cards: %w", err)
	}
	return cards, nil
}

func (s *GormStore) UpdateCardCounter(ctx context.Context, cardID string, counter uint32) error {
	res := s.conn(ctx).Model(&models.Card{}).Where("id = ?", cardID).Update("counter", counter)
	if res.Error != nil {
		return fmt.Errorf("failed to update counter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *GormStore) SetCardEnabled(ctx context.Context, cardID string, enable bool) (*models.Card, error) {
	res := s.conn(ctx).Model(&models.Card{}).Where("id = ?", cardID).Update("enable", enable)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update card: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.GetCard(ctx, cardID)
}

func (s *GormStore) RotateOTP(ctx context.Context, oldOTP, newOTP string) (*models.Card, error) {
	var card models.Card
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("otp = ?", oldOTP).First(&card).Error; err != nil {
			return translate(err)
		}
		res := tx.Model(&models.Card{}).Where("id = ? AND otp = ?", card.ID, oldOTP).Update("otp", newOTP)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		card.OTP = newOTP
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (s *GormStore) DeleteCard(ctx context.Context, cardID string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		hitIDs := tx.Model(&models.Hit{}).Select("id").Where("card_id = ?", cardID)
		if err := tx.Where("hit_id IN (?)", hitIDs).Delete(&models.Refund{}).Error; err != nil {
			return fmt.Errorf("failed to delete refunds: %w", err)
		}
		if err := tx.Where("card_id = ?", cardID).Delete(&models.Hit{}).Error; err != nil {
			return fmt.Errorf("failed to delete hits: %w", err)
		}
		res := tx.Where("id = ?", cardID).Delete(&models.Card{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete card: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

// Методы для работы с касаниями

func (s *GormStore) CreateHit(ctx context.Context, hit *models.Hit) error {
	if err := s.conn(ctx).Create(hit).Error; err != nil {
		return fmt.Errorf("failed to create hit: %w", translate(err))
	}
	return nil
}

func (s *GormStore) GetHit(ctx context.Context, id string) (*models.Hit, error) {
	var hit models.Hit
	if err := s.conn(ctx).Where("id = ?", id).First(&hit).Error; err != nil {
		return nil, translate(err)
	}
	return &hit, nil
}

func (s *GormStore) GetHits(ctx context.Context, cardIDs []string) ([]models.Hit, error) {
	if len(cardIDs) == 0 {
		return []models.Hit{}, nil
	}
	var hits []models.Hit
	if err := s.conn(ctx).Where("card_id IN ?", cardIDs).Order(byTime).Find(&hits).Error; err != nil {
		return nil, fmt.Errorf("failed to get hits: %w", err)
	}
	return hits, nil
}

func (s *GormStore) GetHitsSince(ctx context.Context, cardID string, since time.Time) ([]models.Hit, error) {
	var hits []models.Hit
	if err := s.conn(ctx).
		Where("card_id = ?", cardID).
		Where(clause.Gte{Column: clause.Column{Name: "time"}, Value: since}).
		Find(&hits).Error; err != nil {
		return nil, fmt.Errorf("failed to get hits: %w", err)
	}
	return hits, nil
}

func (s *GormStore) SpendHit(ctx context.Context, hitID string, amount int64) (*models.Hit, error) {
	res := s.conn(ctx).Model(&models.Hit{}).
		Where("id = ? AND spent = ?", hitID, false).
		Updates(map[string]interface{}{"spent": true, "amount": amount})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to spend hit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetHit(ctx, hitID); err != nil {
			return nil, err
		}
		return nil, ErrAlreadySpent
	}
	return s.GetHit(ctx, hitID)
}

// Методы для работы с возвратами

func (s *GormStore) CreateRefund(ctx context.Context, refund *models.Refund) error {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(refund)
	if res.Error != nil {
		return fmt.Errorf("failed to create refund: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *GormStore) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	var refund models.Refund
	if err := s.conn(ctx).Where("id = ?", id).First(&refund).Error; err != nil {
		return nil, translate(err)
	}
	return &refund, nil
}

func (s *GormStore) GetRefunds(ctx context.Context, hitIDs []string) ([]models.Refund, error) {
	if len(hitIDs) == 0 {
		return []models.Refund{}, nil
	}
	var refunds []models.Refund
	if err := s.conn(ctx).Where("hit_id IN ?", hitIDs).Order(byTime).Find(&refunds).Error; err != nil {
		return nil, fmt.Errorf("failed to get refunds: %w", err)
	}
	return refunds, nil
}

// WithCardLock открывает транзакцию и блокирует строку карты (SELECT ... FOR UPDATE)
func (s *GormStore) WithCardLock(ctx context.Context, cardID string, fn func(tx Store, card *models.Card) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", cardID).First(&card).Error; err != nil {
			return translate(err)
		}
		return fn(&GormStore{db: tx}, &card)
	})
}
