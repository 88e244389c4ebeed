package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"nfcauth/database"
	"nfcauth/models"
	"nfcauth/utils"
)

// CardDTO представляет данные для создания и изменения карты
type CardDTO struct {
	CardName   string `json:"card_name" validate:"required,max=100"`
	UID        string `json:"uid" validate:"required,hexadecimal,len=14"`
	Npub       string `json:"npub" validate:"omitempty,startswith=npub"`
	Counter    uint32 `json:"counter"`
	TxLimit    int64  `json:"tx_limit" validate:"gte=0"`
	DailyLimit int64  `json:"daily_limit" validate:"gte=0"`
	Enable     *bool  `json:"enable"`
	K0         string `json:"k0" validate:"omitempty,hexadecimal,len=32"`
	K1         string `json:"k1" validate:"omitempty,hexadecimal,len=32"`
	K2         string `json:"k2" validate:"omitempty,hexadecimal,len=32"`
}

// CardResponseDTO представляет данные карты для ответа
type CardResponseDTO struct {
	ID         string `json:"id"`
	Wallet     string `json:"wallet"`
	CardName   string `json:"card_name"`
	UID        string `json:"uid"`
	ExternalID string `json:"external_id"`
	Npub       string `json:"npub"`
	Counter    uint32 `json:"counter"`
	TxLimit    int64  `json:"tx_limit"`
	DailyLimit int64  `json:"daily_limit"`
	Enable     bool   `json:"enable"`
	K0         string `json:"k0"`
	K1         string `json:"k1"`
	K2         string `json:"k2"`
	OTP        string `json:"otp"`
	Time       string `json:"time"`
}

// ErrUIDImmutable UID выпущенной карты не меняется
var ErrUIDImmutable = errors.New("uid of an issued card cannot be changed")

// CardService предоставляет методы для работы с картами
type CardService struct {
	store     database.Store
	ledger    *Ledger
	validator *validator.Validate
}

// NewCardService создает новый экземпляр CardService
func NewCardService(store database.Store) *CardService {
	return &CardService{
		store:     store,
		ledger:    NewLedger(store),
		validator: validator.New(),
	}
}

// validateRequest валидирует DTO и возвращает ошибки валидации
func (s *CardService) validateRequest(dto interface{}) error {
	if err := s.validator.Struct(dto); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return err
		}
		var messages []string
		for _, e := range validationErrors {
			switch e.Tag() {
			case "required":
				messages = append(messages, "поле "+e.Field()+" обязательно")
			case "hexadecimal":
				messages = append(messages, "поле "+e.Field()+" должно быть в hex")
			case "len":
				messages = append(messages, "поле "+e.Field()+" должно иметь длину "+e.Param())
			case "gte":
				messages = append(messages, "поле "+e.Field()+" не может быть отрицательным")
			default:
				messages = append(messages, "поле "+e.Field()+" некорректно")
			}
		}
		return fmt.Errorf("%w: %s", ErrMalformedInput, strings.Join(messages, "; "))
	}
	return nil
}

func keyOrNew(key string) (string, error) {
	if key != "" {
		return strings.ToLower(key), nil
	}
	return utils.GenerateKey()
}

// CreateCard создает карту в кошельке wallet
func (s *CardService) CreateCard(ctx context.Context, wallet string, dto CardDTO) (*CardResponseDTO, error) {
	if err := s.validateRequest(dto); err != nil {
		return nil, err
	}

	card := &models.Card{
		ID:         strings.ToUpper(utils.NewID()),
		Npub:       dto.Npub,
		UID:        strings.ToUpper(dto.UID),
		ExternalID: strings.ToLower(utils.NewID()),
		Wallet:     wallet,
		CardName:   dto.CardName,
		Counter:    dto.Counter,
		TxLimit:    dto.TxLimit,
		DailyLimit: dto.DailyLimit,
		Enable:     dto.Enable == nil || *dto.Enable,
	}

	var err error
	if card.K0, err = keyOrNew(dto.K0); err != nil {
		return nil, err
	}
	if card.K1, err = keyOrNew(dto.K1); err != nil {
		return nil, err
	}
	if card.K2, err = keyOrNew(dto.K2); err != nil {
		return nil, err
	}
	if card.OTP, err = utils.GenerateSecureToken(16); err != nil {
		return nil, err
	}

	if err := s.store.CreateCard(ctx, card); err != nil {
		return nil, err
	}
	utils.GetMetrics().RecordCardOperation("create")
	utils.LogInfo("card %s created in wallet %s", card.ID, wallet)

	return toCardResponse(card), nil
}

// GetCard возвращает карту, если она принадлежит одному из кошельков
func (s *CardService) GetCard(ctx context.Context, wallets []string, cardID string) (*models.Card, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, flowError(ErrNotFound, ReasonCardNotExist)
		}
		return nil, err
	}
	if !ownsWallet(wallets, card.Wallet) {
		return nil, flowError(ErrNotFound, ReasonCardNotExist)
	}
	return card, nil
}

// UpdateCard изменяет параметры карты. UID менять нельзя.
func (s *CardService) UpdateCard(ctx context.Context, wallets []string, cardID string, dto CardDTO) (*CardResponseDTO, error) {
	if err := s.validateRequest(dto); err != nil {
		return nil, err
	}
	card, err := s.GetCard(ctx, wallets, cardID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(card.UID, dto.UID) {
		return nil, ErrUIDImmutable
	}

	card.CardName = dto.CardName
	card.Npub = dto.Npub
	card.TxLimit = dto.TxLimit
	card.DailyLimit = dto.DailyLimit
	if dto.Enable != nil {
		card.Enable = *dto.Enable
	}
	if dto.K0 != "" {
		card.K0 = strings.ToLower(dto.K0)
	}
	if dto.K1 != "" {
		card.K1 = strings.ToLower(dto.K1)
	}
	if dto.K2 != "" {
		card.K2 = strings.ToLower(dto.K2)
	}

	if err := s.store.UpdateCard(ctx, card); err != nil {
		return nil, err
	}
	return toCardResponse(card), nil
}

// EnableCard включает или отключает карту
func (s *CardService) EnableCard(ctx context.Context, wallets []string, cardID string, enable bool) (*CardResponseDTO, error) {
	if _, err := s.GetCard(ctx, wallets, cardID); err != nil {
		return nil, err
	}
	card, err := s.store.SetCardEnabled(ctx, cardID, enable)
	if err != nil {
		return nil, err
	}
	return toCardResponse(card), nil
}

// DeleteCard удаляет карту вместе с касаниями и возвратами
func (s *CardService) DeleteCard(ctx context.Context, wallets []string, cardID string) error {
	if _, err := s.GetCard(ctx, wallets, cardID); err != nil {
		return err
	}
	if err := s.ledger.DeleteCard(ctx, cardID); err != nil {
		return err
	}
	utils.GetMetrics().RecordCardOperation("delete")
	utils.LogInfo("card %s deleted", cardID)
	return nil
}

// GetCards возвращает карты кошельков
func (s *CardService) GetCards(ctx context.Context, wallets []string) ([]CardResponseDTO, error) {
	cards, err := s.store.GetCards(ctx, wallets)
	if err != nil {
		return nil, err
	}
	response := make([]CardResponseDTO, 0, len(cards))
	for i := range cards {
		response = append(response, *toCardResponse(&cards[i]))
	}
	return response, nil
}

// GetHits возвращает касания всех карт кошельков
func (s *CardService) GetHits(ctx context.Context, wallets []string) ([]models.Hit, error) {
	cards, err := s.store.GetCards(ctx, wallets)
	if err != nil {
		return nil, err
	}
	cardIDs := make([]string, 0, len(cards))
	for _, card := range cards {
		cardIDs = append(cardIDs, card.ID)
	}
	return s.ledger.Hits(ctx, cardIDs)
}

// GetRefunds возвращает возвраты по касаниям карт кошельков
func (s *CardService) GetRefunds(ctx context.Context, wallets []string) ([]models.Refund, error) {
	hits, err := s.GetHits(ctx, wallets)
	if err != nil {
		return nil, err
	}
	hitIDs := make([]string, 0, len(hits))
	for _, hit := range hits {
		hitIDs = append(hitIDs, hit.ID)
	}
	return s.ledger.Refunds(ctx, hitIDs)
}

func ownsWallet(wallets []string, wallet string) bool {
	for _, w := range wallets {
		if w == wallet {
			return true
		}
	}
	return false
}

func toCardResponse(card *models.Card) *CardResponseDTO {
	return &CardResponseDTO{
		ID:         card.ID,
		Wallet:     card.Wallet,
		CardName:   card.CardName,
		UID:        card.UID,
		ExternalID: card.ExternalID,
		Npub:       card.Npub,
		Counter:    card.Counter,
		TxLimit:    card.TxLimit,
		DailyLimit: card.DailyLimit,
		Enable:     card.Enable,
		K0:         card.K0,
		K1:         card.K1,
		K2:         card.K2,
		OTP:        card.OTP,
		Time:       card.Time.Format("02.01.2006 15:04:05"),
	}
}
