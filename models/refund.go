package models

import (
	"time"
)

// Refund представляет возврат средств по касанию.
// ID совпадает с payment hash оплаченного инвойса.
type Refund struct {
	ID           string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	HitID        string    `gorm:"column:hit_id;not null;index;size:64" json:"hit_id"`
	RefundAmount int64     `gorm:"column:refund_amount;not null" json:"refund_amount"`
	Time         time.Time `gorm:"column:time;autoCreateTime" json:"time"`
}

func (Refund) TableName() string {
	return "refunds"
}
