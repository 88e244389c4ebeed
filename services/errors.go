package services

import (
	"errors"
)

// Категории ошибок потоков сканирования и выплаты
var (
	ErrNotFound            = errors.New("not found")
	ErrDisabled            = errors.New("card disabled")
	ErrCryptoVerification  = errors.New("crypto verification failed")
	ErrReplayRejected      = errors.New("replay rejected")
	ErrLimitExceeded       = errors.New("limit exceeded")
	ErrAlreadyClaimed      = errors.New("already claimed")
	ErrMalformedInput      = errors.New("malformed input")
	ErrUpstreamPayment     = errors.New("upstream payment failure")
	ErrInternalConsistency = errors.New("internal consistency fault")
)

// Причины, которые видит вызывающая сторона
const (
	ReasonNoCard           = "No card."
	ReasonCardDisabled     = "Card is disabled."
	ReasonDecryptError     = "Error decrypting card."
	ReasonLinkUsed         = "This link is already used."
	ReasonDailyLimit       = "Max daily limit spent."
	ReasonTxLimit          = "Amount exceeds transaction limit."
	ReasonMissingK1        = "Missing K1 token"
	ReasonBadK1            = "Record not found for this charge (bad k1)"
	ReasonAlreadyClaimed   = "Payment already claimed"
	ReasonMissingPR        = "Missing payment request"
	ReasonBadPR            = "Failed to decode payment request"
	ReasonNoAmount         = "Invoice amount is missing"
	ReasonPayRecordMissing = "LNURL-pay record not found."
	ReasonBadAmount        = "Invalid amount."
	ReasonAmountRange      = "Amount out of range."
	ReasonCardNotExist     = "Card does not exist."
)

// FlowError ошибка шага потока с короткой стабильной причиной.
// Reason никогда не содержит ключей и внутренних деталей.
type FlowError struct {
	Kind   error
	Reason string
}

func (e *FlowError) Error() string {
	return e.Reason
}

func (e *FlowError) Unwrap() error {
	return e.Kind
}

func flowError(kind error, reason string) *FlowError {
	return &FlowError{Kind: kind, Reason: reason}
}

// ReasonOf возвращает причину для ответа, если err - ошибка потока
func ReasonOf(err error) (string, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Reason, true
	}
	return "", false
}

// KindName короткое имя категории для метрик и логов
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, ErrCryptoVerification):
		return "crypto"
	case errors.Is(err, ErrReplayRejected):
		return "replay"
	case errors.Is(err, ErrLimitExceeded):
		return "limit"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrMalformedInput):
		return "malformed"
	case errors.Is(err, ErrUpstreamPayment):
		return "upstream"
	default:
		return "internal"
	}
}
