package do

import "time"

type TradeInfo struct {
	ID           uint64 `gorm:"primaryKey"`
	OrderID      string `gorm:"uniqueIndex:idx_order_id;size:64;not null"`
	SellAsset    string `gorm:"size:64;not null;default:''"`
	BuyAsset     string `gorm:"size:64;not null;default:''"`
	SellAmount   int64  `gorm:"not null;default:0"`
	BuyAmount    int64  `gorm:"not null;default:0"`
	ChangeAmount int64  `gorm:"not null;default:0"`
	Status       int64  `gorm:"index:idx_status;not null;default:0"`
	TxID         string `gorm:"not null;default:''"`
	Reason       string `gorm:"not null;default:''"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
