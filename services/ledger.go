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

// Ledger журнал касаний и возвратов
type Ledger struct {
	store database.Store
	now   func() time.Time
}

// NewLedger создает журнал поверх хранилища
func NewLedger(store database.Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// with возвращает журнал, привязанный к транзакции tx
func (l *Ledger) with(tx database.Store) *Ledger {
	return &Ledger{store: tx, now: l.now}
}

// RecordHit создает касание с amount=0, spent=false.
// Если запись не читается обратно, это нарушение согласованности.
func (l *Ledger) RecordHit(ctx context.Context, cardID, ip, userAgent string, oldCtr, newCtr uint32) (*models.Hit, error) {
	hit := &models.Hit{
		ID:        utils.NewID(),
		CardID:    cardID,
		IP:        ip,
		UserAgent: userAgent,
		OldCtr:    oldCtr,
		NewCtr:    newCtr,
		Amount:    0,
		Spent:     false,
		Time:      l.now(),
	}
	if err := l.store.CreateHit(ctx, hit); err != nil {
		return nil, err
	}

	stored, err := l.store.GetHit(ctx, hit.ID)
	if err != nil {
		utils.LogError("newly recorded hit %s couldn't be retrieved: %v", hit.ID, err)
		utils.GetMetrics().RecordCriticalError(ErrInternalConsistency)
		return nil, fmt.Errorf("%w: hit %s not readable after insert", ErrInternalConsistency, hit.ID)
	}
	return stored, nil
}

// MarkSpent записывает сумму и переводит касание в spent. Переход необратим.
func (l *Ledger) MarkSpent(ctx context.Context, hitID string, amount int64) (*models.Hit, error) {
	hit, err := l.store.SpendHit(ctx, hitID, amount)
	switch {
	case errors.Is(err, database.ErrAlreadySpent):
		return nil, flowError(ErrAlreadyClaimed, ReasonAlreadyClaimed)
	case errors.Is(err, database.ErrRecordNotFound):
		return nil, flowError(ErrNotFound, ReasonBadK1)
	case err != nil:
		return nil, err
	}
	return hit, nil
}

// RecordRefund записывает возврат по касанию. Родительское касание не меняется.
// Повторная запись с тем же id возвращает существующий возврат и created=false.
func (l *Ledger) RecordRefund(ctx context.Context, refundID, hitID string, amount int64) (*models.Refund, bool, error) {
	refund := &models.Refund{
		ID:           refundID,
		HitID:        hitID,
		RefundAmount: amount,
		Time:         l.now(),
	}
	err := l.store.CreateRefund(ctx, refund)
	created := true
	switch {
	case errors.Is(err, database.ErrDuplicate):
		created = false
	case err != nil:
		return nil, false, err
	}

	stored, err := l.store.GetRefund(ctx, refundID)
	if err != nil {
		utils.LogError("newly recorded refund %s couldn't be retrieved: %v", refundID, err)
		return nil, false, fmt.Errorf("%w: refund %s not readable after insert", ErrInternalConsistency, refundID)
	}
	return stored, created, nil
}

// DeleteCard удаляет карту вместе с касаниями и возвратами
func (l *Ledger) DeleteCard(ctx context.Context, cardID string) error {
	if err := l.store.DeleteCard(ctx, cardID); err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return flowError(ErrNotFound, ReasonCardNotExist)
		}
		return err
	}
	return nil
}

// SpentToday сумма выплат по карте за текущий локальный день
func (l *Ledger) SpentToday(ctx context.Context, cardID string) (int64, error) {
	now := l.now()
	hits, err := l.store.GetHitsSince(ctx, cardID, StartOfDay(now))
	if err != nil {
		return 0, err
	}
	return SpentOnDay(hits, now), nil
}

// Hits касания по списку карт
func (l *Ledger) Hits(ctx context.Context, cardIDs []string) ([]models.Hit, error) {
	return l.store.GetHits(ctx, cardIDs)
}

// Refunds возвраты по списку касаний
func (l *Ledger) Refunds(ctx context.Context, hitIDs []string) ([]models.Refund, error) {
	return l.store.GetRefunds(ctx, hitIDs)
}
