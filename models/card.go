package models

import (
	"time"
)

// Card представляет NFC-карту, привязанную к кошельку
type Card struct {
	ID         string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Npub       string    `gorm:"column:npub;not null;default:''" json:"npub"`
	UID        string    `gorm:"column:uid;not null;size:14;index" json:"uid"`
	ExternalID string    `gorm:"column:external_id;not null;uniqueIndex;size:64" json:"external_id"`
	Wallet     string    `gorm:"column:wallet;not null;index" json:"wallet"`
	CardName   string    `gorm:"column:card_name;not null" json:"card_name"`
	Counter    uint32    `gorm:"column:counter;not null;default:0" json:"counter"`
	TxLimit    int64     `gorm:"column:tx_limit;not null;default:0" json:"tx_limit"`
	DailyLimit int64     `gorm:"column:daily_limit;not null;default:0" json:"daily_limit"`
	Enable     bool      `gorm:"column:enable;not null" json:"enable"`
	K0         string    `gorm:"column:k0;not null;size:32" json:"k0"`
	K1         string    `gorm:"column:k1;not null;size:32" json:"k1"`
	K2         string    `gorm:"column:k2;not null;size:32" json:"k2"`
	OTP        string    `gorm:"column:otp;not null;index;size:32" json:"otp"`
	Time       time.Time `gorm:"column:time;autoCreateTime" json:"time"`
}

// TableName возвращает имя таблицы для модели Card
func (Card) TableName() string {
	return "cards"
}
