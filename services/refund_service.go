package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"nfcauth/database"
	"nfcauth/models"
	"nfcauth/utils"
)

// RefundMetadata метаданные LNURL-pay для возврата
const RefundMetadata = `[["text/plain", "Refund"]]`

var errInvoiceNotPaid = errors.New("invoice is not paid")

// PayRequestResponse ответ LNURL-pay на запрос возврата
type PayRequestResponse struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	Metadata    string `json:"metadata"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
}

// PayCallbackResponse ответ с инвойсом возврата
type PayCallbackResponse struct {
	PR     string        `json:"pr"`
	Routes []interface{} `json:"routes"`
}

// RefundService принимает возвраты на кошелек карты по LNURL-pay
type RefundService struct {
	store    database.Store
	ledger   *Ledger
	payments PaymentService
	notifier Notifier
}

// NewRefundService создает новый экземпляр RefundService
func NewRefundService(store database.Store, payments PaymentService) *RefundService {
	return &RefundService{
		store:    store,
		ledger:   NewLedger(store),
		payments: payments,
	}
}

// SetNotifier подключает уведомления о возвратах
func (s *RefundService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *RefundService) hitCard(ctx context.Context, hitID string) (*models.Hit, *models.Card, error) {
	hit, err := s.store.GetHit(ctx, hitID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, nil, flowError(ErrNotFound, ReasonPayRecordMissing)
		}
		return nil, nil, err
	}
	card, err := s.store.GetCard(ctx, hit.CardID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, nil, flowError(ErrNotFound, ReasonPayRecordMissing)
		}
		return nil, nil, err
	}
	return hit, card, nil
}

// PayRequest возвращает параметры LNURL-pay для возврата по касанию
func (s *RefundService) PayRequest(ctx context.Context, hitID, baseURL string) (*PayRequestResponse, error) {
	_, card, err := s.hitCard(ctx, hitID)
	if err != nil {
		return nil, err
	}
	if !card.Enable {
		return nil, flowError(ErrDisabled, ReasonCardDisabled)
	}
	return &PayRequestResponse{
		Tag:         "payRequest",
		Callback:    PayCallbackURL(baseURL, hitID),
		Metadata:    RefundMetadata,
		MinSendable: 1 * 1000,
		MaxSendable: card.TxLimit * 1000,
	}, nil
}

// PayCallback выставляет инвойс возврата на amount миллисатоши
func (s *RefundService) PayCallback(ctx context.Context, hitID, amount, baseURL string) (*PayCallbackResponse, error) {
	_, card, err := s.hitCard(ctx, hitID)
	if err != nil {
		return nil, err
	}
	if !card.Enable {
		return nil, flowError(ErrDisabled, ReasonCardDisabled)
	}

	msat, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return nil, flowError(ErrMalformedInput, ReasonBadAmount)
	}
	if msat < 1000 || msat > card.TxLimit*1000 {
		return nil, flowError(ErrLimitExceeded, ReasonAmountRange)
	}

	invoice, err := s.payments.CreateInvoice(ctx, InvoiceRequest{
		WalletID:            card.Wallet,
		AmountSat:           msat / 1000,
		Memo:                fmt.Sprintf("Refund %s", hitID),
		UnhashedDescription: []byte(RefundMetadata),
		Extra:               map[string]string{"refund": hitID},
		WebhookURL:          PaidWebhookURL(baseURL, hitID),
	})
	if err != nil {
		utils.GetMetrics().RecordError(err)
		return nil, flowError(ErrUpstreamPayment, "Failed to create invoice - "+err.Error())
	}
	return &PayCallbackResponse{PR: invoice.PaymentRequest, Routes: []interface{}{}}, nil
}

// RecordPaidRefund сверяет оплату с платежным сервисом и записывает возврат.
// Id возврата - хэш платежа, поэтому повторное уведомление ничего не меняет.
func (s *RefundService) RecordPaidRefund(ctx context.Context, hitID, paymentHash string) (*models.Refund, error) {
	if paymentHash == "" {
		return nil, flowError(ErrMalformedInput, "Missing payment hash")
	}
	_, card, err := s.hitCard(ctx, hitID)
	if err != nil {
		return nil, err
	}

	status, err := s.payments.CheckInvoice(ctx, card.Wallet, paymentHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamPayment, err)
	}
	if !status.Paid {
		return nil, errInvoiceNotPaid
	}
	// принимаются только входящие инвойсы, выставленные PayCallback для этого касания
	if status.Extra["refund"] != hitID {
		return nil, flowError(ErrMalformedInput, "Invoice belongs to another record")
	}
	if status.AmountSat <= 0 {
		return nil, flowError(ErrMalformedInput, ReasonBadAmount)
	}

	refund, created, err := s.ledger.RecordRefund(ctx, paymentHash, hitID, status.AmountSat)
	if err != nil {
		return nil, err
	}
	if created {
		utils.GetMetrics().RecordRefund()
		utils.LogInfo("refund %s of %d sat recorded for hit %s", refund.ID, refund.RefundAmount, hitID)
		if s.notifier != nil {
			s.notifier.RefundReceived(card, refund)
		}
	}
	return refund, nil
}
