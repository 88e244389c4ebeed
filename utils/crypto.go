package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/aead/cmac"
	"github.com/google/uuid"
)

const (
	// SunPICCDataTag первый байт расшифрованного SUN-сообщения
	SunPICCDataTag = 0xC7
	// UIDLength длина UID метки в байтах
	UIDLength = 7
	// CounterLength длина счетчика в байтах (little-endian)
	CounterLength = 3
	// MaxCounter максимальное значение счетчика метки
	MaxCounter = 1<<(8*CounterLength) - 1

	sunBlockLength = aes.BlockSize
	sunMACLength   = 8
	keyLength      = 16
)

// sv2 префикс для вывода сессионного ключа MAC
var sv2Prefix = []byte{0x3C, 0xC3, 0x00, 0x01, 0x00, 0x80}

// ErrSUNVerification единственная ошибка проверки SUN-сообщения.
// Причина сбоя наружу не раскрывается.
var ErrSUNVerification = errors.New("sun verification failed")

// DecryptSUN расшифровывает PICC-данные метки ключом k1
func DecryptSUN(p, k1 []byte) (uid, counter []byte, err error) {
	if len(p) != sunBlockLength {
		return nil, nil, fmt.Errorf("invalid sun length: %d", len(p))
	}
	block, err := aes.NewCipher(k1)
	if err != nil {
		return nil, nil, err
	}
	plain := make([]byte, sunBlockLength)
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(plain, p)
	if plain[0] != SunPICCDataTag {
		return nil, nil, errors.New("invalid picc data tag")
	}
	uid = plain[1 : 1+UIDLength]
	counter = plain[1+UIDLength : 1+UIDLength+CounterLength]
	return uid, counter, nil
}

// EncryptSUN формирует PICC-данные так же, как это делает метка
func EncryptSUN(uid, counter, k1 []byte) ([]byte, error) {
	if len(uid) != UIDLength || len(counter) != CounterLength {
		return nil, errors.New("invalid uid or counter length")
	}
	block, err := aes.NewCipher(k1)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, sunBlockLength)
	plain[0] = SunPICCDataTag
	copy(plain[1:], uid)
	copy(plain[1+UIDLength:], counter)
	if _, err := rand.Read(plain[1+UIDLength+CounterLength:]); err != nil {
		return nil, err
	}
	out := make([]byte, sunBlockLength)
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, plain)
	return out, nil
}

// SunMAC вычисляет усеченный CMAC по UID и счетчику ключом k2
func SunMAC(uid, counter, k2 []byte) ([]byte, error) {
	block, err := aes.NewCipher(k2)
	if err != nil {
		return nil, err
	}
	sv2 := make([]byte, 0, len(sv2Prefix)+len(uid)+len(counter))
	sv2 = append(sv2, sv2Prefix...)
	sv2 = append(sv2, uid...)
	sv2 = append(sv2, counter...)

	sessionKey, err := cmac.Sum(sv2, block, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	sessionBlock, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, err
	}
	full, err := cmac.Sum(nil, sessionBlock, aes.BlockSize)
	if err != nil {
		return nil, err
	}

	mac := make([]byte, 0, sunMACLength)
	for i := 1; i < len(full); i += 2 {
		mac = append(mac, full[i])
	}
	return mac, nil
}

// CounterValue переводит 3-байтовый little-endian счетчик в число
func CounterValue(counter []byte) uint32 {
	var buf [4]byte
	copy(buf[:], counter)
	return binary.LittleEndian.Uint32(buf[:])
}

// CounterBytes обратное преобразование для CounterValue
func CounterBytes(value uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return buf[:CounterLength]
}

// SUNStage последний успешно пройденный этап проверки SUN
type SUNStage int

const (
	SUNStageNone SUNStage = iota
	SUNStageDecrypted
	SUNStageUIDMatched
	SUNStageMACVerified
)

// VerifySUN проверяет пару p/c из URL метки по ключам карты.
// Возвращает UID и счетчик либо ErrSUNVerification.
func VerifySUN(pHex, cHex, k1Hex, k2Hex, cardUID string) (string, uint32, error) {
	uid, counter, _, err := VerifySUNStages(pHex, cHex, k1Hex, k2Hex, cardUID)
	return uid, counter, err
}

// VerifySUNStages то же, что VerifySUN, и сообщает достигнутый этап.
// Этап нужен только для журнала, ошибка всегда ErrSUNVerification.
func VerifySUNStages(pHex, cHex, k1Hex, k2Hex, cardUID string) (string, uint32, SUNStage, error) {
	p, err := hex.DecodeString(strings.ToUpper(pHex))
	if err != nil {
		return "", 0, SUNStageNone, ErrSUNVerification
	}
	c, err := hex.DecodeString(strings.ToUpper(cHex))
	if err != nil || len(c) != sunMACLength {
		return "", 0, SUNStageNone, ErrSUNVerification
	}
	k1, err := hex.DecodeString(k1Hex)
	if err != nil || len(k1) != keyLength {
		return "", 0, SUNStageNone, ErrSUNVerification
	}
	k2, err := hex.DecodeString(k2Hex)
	if err != nil || len(k2) != keyLength {
		return "", 0, SUNStageNone, ErrSUNVerification
	}

	uid, counter, err := DecryptSUN(p, k1)
	if err != nil {
		return "", 0, SUNStageNone, ErrSUNVerification
	}
	uidHex := strings.ToUpper(hex.EncodeToString(uid))
	if !strings.EqualFold(uidHex, cardUID) {
		return "", 0, SUNStageDecrypted, ErrSUNVerification
	}

	expected, err := SunMAC(uid, counter, k2)
	if err != nil || !hmac.Equal(expected, c) {
		return "", 0, SUNStageUIDMatched, ErrSUNVerification
	}
	return uidHex, CounterValue(counter), SUNStageMACVerified, nil
}

// BuildSUN формирует пару p/c в верхнем регистре для заданных UID и счетчика
func BuildSUN(uidHex string, counter uint32, k1Hex, k2Hex string) (string, string, error) {
	uid, err := hex.DecodeString(uidHex)
	if err != nil {
		return "", "", err
	}
	k1, err := hex.DecodeString(k1Hex)
	if err != nil {
		return "", "", err
	}
	k2, err := hex.DecodeString(k2Hex)
	if err != nil {
		return "", "", err
	}
	ctr := CounterBytes(counter)
	p, err := EncryptSUN(uid, ctr, k1)
	if err != nil {
		return "", "", err
	}
	c, err := SunMAC(uid, ctr, k2)
	if err != nil {
		return "", "", err
	}
	return strings.ToUpper(hex.EncodeToString(p)), strings.ToUpper(hex.EncodeToString(c)), nil
}

// GenerateSecureToken генерирует случайный hex-токен из length байт
func GenerateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateKey генерирует случайный AES-128 ключ в hex
func GenerateKey() (string, error) {
	return GenerateSecureToken(keyLength)
}

// NewID возвращает новый идентификатор записи (32 hex-символа)
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
