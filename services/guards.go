package services

import (
	"time"

	"nfcauth/models"
)

// CheckCounter принимает только строго возрастающий счетчик.
// Переполнение не обрабатывается: карта на MaxCounter больше не проходит.
func CheckCounter(stored, decoded uint32) error {
	if decoded <= stored {
		return flowError(ErrReplayRejected, ReasonLinkUsed)
	}
	return nil
}

// StartOfDay начало календарного дня t в его часовом поясе
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SpentOnDay суммирует Amount касаний, приходящихся на тот же день, что и day
func SpentOnDay(hits []models.Hit, day time.Time) int64 {
	y, m, d := day.Date()
	var total int64
	for _, hit := range hits {
		hy, hm, hd := hit.Time.In(day.Location()).Date()
		if hy == y && hm == m && hd == d {
			total += hit.Amount
		}
	}
	return total
}

// CheckDailyLimit отклоняет касание, если уже выплаченное за день превышает лимит.
// Учитываются только оплаченные касания, поэтому ограничение рекомендательное.
func CheckDailyLimit(card *models.Card, spentToday int64) error {
	if spentToday > card.DailyLimit {
		return flowError(ErrLimitExceeded, ReasonDailyLimit)
	}
	return nil
}

// CheckTxLimit отклоняет выплату больше лимита на транзакцию
func CheckTxLimit(card *models.Card, amount int64) error {
	if amount > card.TxLimit {
		return flowError(ErrLimitExceeded, ReasonTxLimit)
	}
	return nil
}
