package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nfcauth/database"
	"nfcauth/models"
	"nfcauth/utils"
)

// Состояния обработки касания
const (
	StateReceived        = "RECEIVED"
	StateDecrypted       = "DECRYPTED"
	StateUIDMatched      = "UID_MATCHED"
	StateMACVerified     = "MAC_VERIFIED"
	StateCounterAccepted = "COUNTER_ACCEPTED"
	StateWithinLimit     = "WITHIN_LIMIT"
	StateRecorded        = "RECORDED"
	StateRejected        = "REJECTED"
)

// WithdrawTag метка, с которой уходят выплаты по касаниям
const WithdrawTag = "nostrnfcauth"

// ClientContext данные клиента, отправившего касание
type ClientContext struct {
	IP        string
	UserAgent string
}

// ScanResult ответ на успешное касание.
// Поля LNURL-withdraw заполняются, только если они включены в конфигурации.
type ScanResult struct {
	Npub               string `json:"npub"`
	Tag                string `json:"tag,omitempty"`
	Callback           string `json:"callback,omitempty"`
	K1                 string `json:"k1,omitempty"`
	MinWithdrawable    int64  `json:"minWithdrawable,omitempty"`
	MaxWithdrawable    int64  `json:"maxWithdrawable,omitempty"`
	DefaultDescription string `json:"defaultDescription,omitempty"`
	PayLink            string `json:"payLink,omitempty"`

	HitID string `json:"-"`
}

// TapConfig настройки потока касаний
type TapConfig struct {
	WithdrawResponse bool
}

// TapService проверяет касания и авторизует выплаты
type TapService struct {
	store    database.Store
	ledger   *Ledger
	payments PaymentService
	notifier Notifier
	config   TapConfig
}

// NewTapService создает новый экземпляр TapService
func NewTapService(store database.Store, payments PaymentService, cfg TapConfig) *TapService {
	return &TapService{
		store:    store,
		ledger:   NewLedger(store),
		payments: payments,
		config:   cfg,
	}
}

// SetNotifier подключает уведомления о выплатах
func (s *TapService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetClock подменяет источник времени журнала
func (s *TapService) SetClock(now func() time.Time) {
	s.ledger.now = now
}

func logState(externalID, state string) {
	utils.LogDebug("scan %s: %s", externalID, state)
}

// sunStates состояния касания для этапов проверки SUN
var sunStates = []struct {
	stage utils.SUNStage
	state string
}{
	{utils.SUNStageDecrypted, StateDecrypted},
	{utils.SUNStageUIDMatched, StateUIDMatched},
	{utils.SUNStageMACVerified, StateMACVerified},
}

func logSUNStages(externalID string, reached utils.SUNStage) {
	for _, st := range sunStates {
		if reached < st.stage {
			return
		}
		logState(externalID, st.state)
	}
}

func (s *TapService) reject(externalID string, err error) error {
	kind := KindName(err)
	utils.GetMetrics().RecordTap(kind)
	utils.LogInfo("scan %s: %s (%s): %v", externalID, StateRejected, kind, err)
	return err
}

// Scan проверяет касание карты и при успехе записывает Hit.
// Счетчик, сумма за день и создание Hit выполняются под блокировкой карты.
func (s *TapService) Scan(ctx context.Context, externalID, p, c string, client ClientContext, baseURL string) (*ScanResult, error) {
	logState(externalID, StateReceived)

	card, err := s.store.GetCardByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, s.reject(externalID, flowError(ErrNotFound, ReasonNoCard))
		}
		return nil, err
	}
	if !card.Enable {
		return nil, s.reject(externalID, flowError(ErrDisabled, ReasonCardDisabled))
	}

	// расшифровка, сверка UID и MAC: все отказы сводятся к одной причине,
	// достигнутый этап пишется только в журнал
	_, counter, stage, err := utils.VerifySUNStages(p, c, card.K1, card.K2, card.UID)
	logSUNStages(externalID, stage)
	if err != nil {
		return nil, s.reject(externalID, flowError(ErrCryptoVerification, ReasonDecryptError))
	}

	var (
		hit      *models.Hit
		limitErr error
	)
	err = s.store.WithCardLock(ctx, card.ID, func(tx database.Store, locked *models.Card) error {
		if !locked.Enable {
			return flowError(ErrDisabled, ReasonCardDisabled)
		}
		if err := CheckCounter(locked.Counter, counter); err != nil {
			return err
		}
		if err := tx.UpdateCardCounter(ctx, locked.ID, counter); err != nil {
			return fmt.Errorf("failed to persist counter: %w", err)
		}
		logState(externalID, StateCounterAccepted)

		ledger := s.ledger.with(tx)
		spent, err := ledger.SpentToday(ctx, locked.ID)
		if err != nil {
			return err
		}
		// ссылка уже использована: новый счетчик сохраняется и при отказе по лимиту
		if err := CheckDailyLimit(locked, spent); err != nil {
			limitErr = err
			return nil
		}
		logState(externalID, StateWithinLimit)

		hit, err = ledger.RecordHit(ctx, locked.ID, client.IP, client.UserAgent, locked.Counter, counter)
		return err
	})
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			err = flowError(ErrNotFound, ReasonNoCard)
		}
		if _, ok := ReasonOf(err); ok {
			return nil, s.reject(externalID, err)
		}
		utils.GetMetrics().RecordError(err)
		return nil, err
	}
	if limitErr != nil {
		return nil, s.reject(externalID, limitErr)
	}
	logState(externalID, StateRecorded)
	utils.GetMetrics().RecordTap("")

	result := &ScanResult{Npub: card.Npub, HitID: hit.ID}
	if s.config.WithdrawResponse {
		if err := s.fillWithdraw(result, card, hit, baseURL); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *TapService) fillWithdraw(result *ScanResult, card *models.Card, hit *models.Hit, baseURL string) error {
	payURL := PayRequestURL(baseURL, hit.ID)
	encoded, err := utils.EncodeLNURL(payURL)
	if err != nil {
		return err
	}
	result.Tag = "withdrawRequest"
	result.Callback = WithdrawCallbackURL(baseURL, hit.ID)
	result.K1 = hit.ID
	result.MinWithdrawable = 1 * 1000
	result.MaxWithdrawable = card.TxLimit * 1000
	result.DefaultDescription = fmt.Sprintf("Boltcard (refund address lnurl://%s)", encoded)
	result.PayLink = withScheme(payURL, "lnurlp")
	return nil
}

// WithdrawCallback проводит выплату по касанию k1 на инвойс pr.
// Касание помечается оплаченным до обращения к платежному сервису:
// при ошибке оплаты оно остается spent.
func (s *TapService) WithdrawCallback(ctx context.Context, hitID, k1, pr string) error {
	if k1 == "" {
		return flowError(ErrMalformedInput, ReasonMissingK1)
	}
	if hitID != "" && hitID != k1 {
		utils.LogDebug("withdraw callback: path hit %s differs from k1 %s", hitID, k1)
	}

	hit, err := s.store.GetHit(ctx, k1)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return flowError(ErrNotFound, ReasonBadK1)
		}
		return err
	}
	if hit.Spent {
		return flowError(ErrAlreadyClaimed, ReasonAlreadyClaimed)
	}
	if pr == "" {
		return flowError(ErrMalformedInput, ReasonMissingPR)
	}

	invoice, err := utils.DecodeBolt11(pr)
	if err != nil {
		return flowError(ErrMalformedInput, ReasonBadPR)
	}
	amount, err := invoice.AmountSat()
	if err != nil {
		return flowError(ErrMalformedInput, ReasonNoAmount)
	}
	if amount <= 0 {
		return flowError(ErrMalformedInput, ReasonBadAmount)
	}

	card, err := s.store.GetCard(ctx, hit.CardID)
	if err != nil {
		utils.LogError("card %s of hit %s couldn't be retrieved: %v", hit.CardID, hit.ID, err)
		return fmt.Errorf("%w: card of hit %s", ErrInternalConsistency, hit.ID)
	}
	if !card.Enable {
		return flowError(ErrDisabled, ReasonCardDisabled)
	}
	if err := CheckTxLimit(card, amount); err != nil {
		return err
	}

	spent, err := s.ledger.MarkSpent(ctx, hit.ID, amount)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.payments.PayInvoice(ctx, PayRequest{
		WalletID:       card.Wallet,
		PaymentRequest: pr,
		MaxSat:         card.TxLimit,
		Extra:          map[string]string{"tag": WithdrawTag, "hit": spent.ID},
	})
	utils.LogOperation("pay invoice for hit "+spent.ID, start, err)
	utils.GetMetrics().RecordPayment(err)
	if err != nil {
		return flowError(ErrUpstreamPayment, "Payment failed - "+err.Error())
	}

	if s.notifier != nil {
		s.notifier.PaymentSent(card, spent)
	}
	return nil
}
