package services

import (
	"context"
	"errors"
	"strings"

	"nfcauth/database"
	"nfcauth/utils"
)

// FactoryOTP одноразовый код, на который отдаются заводские ключи
const FactoryOTP = "00000000000000000000000000000000"

// Параметры протокола выдачи ключей
const (
	HandshakeProtocolName    = "new_bolt_card_response"
	HandshakeProtocolVersion = "1"
)

// HandshakeResponse ключи и адрес для записи на карту
type HandshakeResponse struct {
	CardName        string `json:"card_name,omitempty"`
	ID              string `json:"id,omitempty"`
	K0              string `json:"k0"`
	K1              string `json:"k1"`
	K2              string `json:"k2"`
	K3              string `json:"k3,omitempty"`
	K4              string `json:"k4,omitempty"`
	LnurlwBase      string `json:"lnurlw_base,omitempty"`
	ProtocolName    string `json:"protocol_name,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

// HandshakeService обменивает одноразовый код на ключи карты
type HandshakeService struct {
	store database.Store
}

// NewHandshakeService создает новый экземпляр HandshakeService
func NewHandshakeService(store database.Store) *HandshakeService {
	return &HandshakeService{store: store}
}

func factoryKeys() *HandshakeResponse {
	return &HandshakeResponse{
		K0: strings.Repeat("0", 32),
		K1: strings.Repeat("1", 32),
		K2: strings.Repeat("2", 32),
	}
}

// Handshake выдает ключи карты по OTP и сразу заменяет OTP новым.
// Замена выполняется как compare-and-swap, поэтому OTP срабатывает один раз.
func (s *HandshakeService) Handshake(ctx context.Context, token, baseURL string) (*HandshakeResponse, error) {
	if token == FactoryOTP {
		return factoryKeys(), nil
	}
	if token == "" {
		return nil, flowError(ErrNotFound, ReasonCardNotExist)
	}

	newOTP, err := utils.GenerateSecureToken(16)
	if err != nil {
		return nil, err
	}
	card, err := s.store.RotateOTP(ctx, token, newOTP)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, flowError(ErrNotFound, ReasonCardNotExist)
		}
		return nil, err
	}
	utils.GetMetrics().RecordCardOperation("handshake")
	utils.LogInfo("keys issued for card %s", card.ID)

	return &HandshakeResponse{
		CardName:        card.CardName,
		ID:              "1",
		K0:              card.K0,
		K1:              card.K1,
		K2:              card.K2,
		K3:              card.K1,
		K4:              card.K2,
		LnurlwBase:      "lnurlw://" + Host(baseURL) + RoutePrefix + "/api/v1/scan/" + card.ExternalID,
		ProtocolName:    HandshakeProtocolName,
		ProtocolVersion: HandshakeProtocolVersion,
	}, nil
}
