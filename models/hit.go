package models

import (
	"time"
)

// Hit представляет одно аутентифицированное касание карты
type Hit struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	CardID    string    `gorm:"column:card_id;not null;index;size:64" json:"card_id"`
	IP        string    `gorm:"column:ip;not null;default:''" json:"ip"`
	UserAgent string    `gorm:"column:useragent;not null;default:''" json:"useragent"`
	OldCtr    uint32    `gorm:"column:old_ctr;not null" json:"old_ctr"`
	NewCtr    uint32    `gorm:"column:new_ctr;not null" json:"new_ctr"`
	Amount    int64     `gorm:"column:amount;not null;default:0" json:"amount"` // в сатоши
	Spent     bool      `gorm:"column:spent;not null;default:false" json:"spent"`
	Time      time.Time `gorm:"column:time;autoCreateTime;index" json:"time"`
}

func (Hit) TableName() string {
	return "hits"
}
