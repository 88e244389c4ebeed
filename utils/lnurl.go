package utils

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

var (
	// ErrInvoiceDecode платежный запрос не является корректным bolt11
	ErrInvoiceDecode = errors.New("failed to decode payment request")
	// ErrInvoiceNoAmount в платежном запросе не указана сумма
	ErrInvoiceNoAmount = errors.New("invoice amount is missing")
)

// Invoice минимальный разбор bolt11: сеть и сумма из human-readable части
type Invoice struct {
	Network    string
	AmountMsat int64
}

// множители суммы bolt11 в миллисатоши
var bolt11Multipliers = map[byte]int64{
	'm': 100_000_000,
	'u': 100_000,
	'n': 100,
}

// DecodeBolt11 проверяет контрольную сумму bech32 и извлекает сумму
func DecodeBolt11(pr string) (*Invoice, error) {
	pr = strings.TrimSpace(pr)
	pr = strings.TrimPrefix(strings.ToLower(pr), "lightning:")
	hrp, _, err := bech32.DecodeNoLimit(pr)
	if err != nil {
		return nil, ErrInvoiceDecode
	}
	if !strings.HasPrefix(hrp, "ln") {
		return nil, ErrInvoiceDecode
	}
	hrp = hrp[2:]

	i := strings.IndexAny(hrp, "0123456789")
	if i < 0 {
		return &Invoice{Network: hrp}, nil
	}
	inv := &Invoice{Network: hrp[:i]}
	amount := hrp[i:]
	if inv.Network == "" {
		return nil, ErrInvoiceDecode
	}

	msat, err := parseBolt11Amount(amount)
	if err != nil {
		return nil, ErrInvoiceDecode
	}
	inv.AmountMsat = msat
	return inv, nil
}

const msatPerBTC = 100_000_000_000

// parseBolt11Amount переводит сумму из hrp в миллисатоши.
// Сумма должна быть положительной и помещаться в int64.
func parseBolt11Amount(amount string) (int64, error) {
	last := amount[len(amount)-1]
	if last >= '0' && last <= '9' {
		btc, err := parseDigits(amount)
		if err != nil {
			return 0, err
		}
		if btc > math.MaxInt64/msatPerBTC {
			return 0, fmt.Errorf("amount overflows: %s", amount)
		}
		return btc * msatPerBTC, nil
	}

	value, err := parseDigits(amount[:len(amount)-1])
	if err != nil {
		return 0, err
	}
	if last == 'p' {
		if value%10 != 0 {
			return 0, fmt.Errorf("sub-millisatoshi amount: %s", amount)
		}
		return value / 10, nil
	}
	mult, ok := bolt11Multipliers[last]
	if !ok {
		return 0, fmt.Errorf("unknown multiplier %q", last)
	}
	if value > math.MaxInt64/mult {
		return 0, fmt.Errorf("amount overflows: %s", amount)
	}
	return value * mult, nil
}

// parseDigits принимает только десятичные цифры без знака, больше нуля
func parseDigits(digits string) (int64, error) {
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, fmt.Errorf("invalid amount: %q", digits)
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("non-positive amount: %q", digits)
	}
	return value, nil
}

// AmountSat возвращает сумму инвойса в сатоши
func (inv *Invoice) AmountSat() (int64, error) {
	if inv.AmountMsat == 0 {
		return 0, ErrInvoiceNoAmount
	}
	return inv.AmountMsat / 1000, nil
}

// EncodeLNURL кодирует URL в bech32 с префиксом lnurl (верхний регистр)
func EncodeLNURL(rawURL string) (string, error) {
	data, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	if err != nil {
		return "", err
	}
	encoded, err := bech32.Encode("lnurl", data)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(encoded), nil
}
