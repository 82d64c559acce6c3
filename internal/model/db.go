package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string `gorm:"primaryKey;size:64;not null"` // product sku
	Name      string `gorm:"size:255;not null"`
	Price     int64  `gorm:"not null"` // minor units
	Currency  string `gorm:"size:8;not null"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CartItem struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;not null;uniqueIndex:idx_cart_line"`
	ProductID string `gorm:"size:64;not null;uniqueIndex:idx_cart_line"`
	Variant   string `gorm:"size:64;not null;default:'';uniqueIndex:idx_cart_line"`
	Quantity  int64  `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User holds the discount profile consumed at checkout. Version guards balance updates.
type User struct {
	ID                   string          `gorm:"primaryKey;size:64;not null"`
	Email                string          `gorm:"size:255"`
	Language             string          `gorm:"size:8;not null;default:'en'"`
	DiscountAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	DiscountType         string          `gorm:"size:16;not null;default:'fixed'"`
	DiscountUsageType    string          `gorm:"size:16;not null;default:'permanent'"`
	DiscountBalance      int64           `gorm:"not null;default:0"`
	DiscountMinimumOrder int64           `gorm:"not null;default:0"`
	DiscountExpiryDate   *time.Time
	Version              int64 `gorm:"not null;default:0"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Order struct {
	ID                 string          `gorm:"primaryKey;size:40;not null"` // ord_<ulid>
	UserID             string          `gorm:"size:64;index;not null"`
	Status             OrderStatus     `gorm:"size:16;index;not null"`
	PaymentStatus      PaymentStatus   `gorm:"size:16;not null"`
	Subtotal           int64           `gorm:"not null"`
	ShippingCost       int64           `gorm:"not null"`
	DiscountAmount     int64           `gorm:"not null"`
	DiscountType       string          `gorm:"size:16"`
	DiscountPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	DiscountUsageType  string          `gorm:"size:16"`
	Total              int64           `gorm:"not null"`
	Currency           string          `gorm:"size:8;not null"`
	CorrelationID      string          `gorm:"size:255;uniqueIndex;not null"` // payment session id, or pre_<key> for pre-created orders
	PaymentReference   string          `gorm:"size:255;index"`                // provider session / intent / order id
	Provider           string          `gorm:"size:16"`
	PaymentSessionID   string          `gorm:"size:64;index"`
	Language           string          `gorm:"size:8"`
	PaidAt             *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

type OrderItem struct {
	ID        uint   `gorm:"primaryKey"`
	OrderID   string `gorm:"size:40;index;not null"`
	ProductID string `gorm:"size:64;index;not null"`
	Name      string `gorm:"size:255;not null"`
	Variant   string `gorm:"size:64"`
	UnitPrice int64  `gorm:"not null"`
	Quantity  int64  `gorm:"not null"`
	LineTotal int64  `gorm:"not null"`
	CreatedAt time.Time
}

type PaymentSession struct {
	ID        string `gorm:"primaryKey;size:64;not null"`
	Provider  string `gorm:"size:16;not null"`
	Mode      string `gorm:"size:16;not null"`              // intent | session
	Reference string `gorm:"size:255;uniqueIndex;not null"` // provider session / intent / order id
	UserID    string `gorm:"size:64;index;not null"`
	OrderID   string `gorm:"size:40;index"`
	Snapshot  string `gorm:"type:text;not null"` // FrozenCheckout JSON
	Total     int64  `gorm:"not null"`
	Status    string `gorm:"size:16;index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	PaymentSessionOpen         = "open"
	PaymentSessionMaterialized = "materialized"
	PaymentSessionFailed       = "failed"
)

type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	Provider    string `gorm:"size:16;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

type Setting struct {
	Key       string `gorm:"primaryKey;size:64;not null"`
	Value     string `gorm:"size:255;not null"`
	UpdatedAt time.Time
}

const (
	SettingFreeShippingThreshold = "free_shipping_threshold"
	SettingStandardShippingRate  = "standard_shipping_rate"
)

// Models lists every table managed by AutoMigrate.
func Models() []any {
	return []any{
		&Product{},
		&CartItem{},
		&User{},
		&Order{},
		&OrderItem{},
		&PaymentSession{},
		&WebhookEvent{},
		&Setting{},
	}
}
