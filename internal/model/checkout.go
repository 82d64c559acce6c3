package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DiscountFixed      = "fixed"
	DiscountPercentage = "percentage"

	UsageOneTime   = "one_time"
	UsagePermanent = "permanent"

	ModeIntent  = "intent"
	ModeSession = "session"
)

type CartLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Variant   string `json:"variant,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

// CartSnapshot is the priced cart used for every calculation within one checkout operation.
type CartSnapshot struct {
	UserID   string     `json:"userId"`
	Items    []CartLine `json:"items"`
	Subtotal int64      `json:"subtotal"`
	Currency string     `json:"currency"`
}

// AppliedDiscount is the discount computed for one checkout.
type AppliedDiscount struct {
	Amount     int64           `json:"amount"`
	Type       string          `json:"type,omitempty"`
	Percentage decimal.Decimal `json:"percentage"`
	UsageType  string          `json:"usageType,omitempty"`
}

func (d AppliedDiscount) Applied() bool {
	return d.Amount > 0
}

// FrozenCheckout is the immutable price breakdown captured when a payment is initiated.
// Confirmation always reads it back and never recomputes.
type FrozenCheckout struct {
	PaymentSessionID string          `json:"paymentSessionId"`
	UserID           string          `json:"userId"`
	OrderID          string          `json:"orderId,omitempty"`
	Provider         string          `json:"provider"`
	Mode             string          `json:"mode"`
	Reference        string          `json:"reference,omitempty"`
	Items            []CartLine      `json:"items,omitempty"`
	Subtotal         int64           `json:"subtotal"`
	ShippingCost     int64           `json:"shippingCost"`
	Discount         AppliedDiscount `json:"discount"`
	Total            int64           `json:"total"`
	Currency         string          `json:"currency"`
	Language         string          `json:"language,omitempty"`
}

var ErrInvalidCheckout = errors.New("model: invalid frozen checkout")

func (f FrozenCheckout) Validate() error {
	if f.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidCheckout)
	}
	if f.PaymentSessionID == "" {
		return fmt.Errorf("%w: missing payment session id", ErrInvalidCheckout)
	}
	if f.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidCheckout)
	}
	if f.Discount.Amount > f.Subtotal {
		return fmt.Errorf("%w: discount %d exceeds subtotal %d", ErrInvalidCheckout, f.Discount.Amount, f.Subtotal)
	}
	want := f.Subtotal + f.ShippingCost - f.Discount.Amount
	if want < 0 {
		want = 0
	}
	if f.Total != want {
		return fmt.Errorf("%w: total %d does not match breakdown %d", ErrInvalidCheckout, f.Total, want)
	}
	return nil
}

type DiscountEvent struct {
	UserID    string `json:"userId"`
	OrderID   string `json:"orderId"`
	Type      string `json:"type"`
	UsageType string `json:"usageType"`
	Applied   int64  `json:"applied"`
	Remaining int64  `json:"remaining"`
	Cleared   bool   `json:"cleared"`
}

type OrderNotification struct {
	OrderID  string        `json:"orderId"`
	UserID   string        `json:"userId"`
	Status   OrderStatus   `json:"status"`
	Payment  PaymentStatus `json:"paymentStatus"`
	Total    int64         `json:"total"`
	Currency string        `json:"currency"`
	Language string        `json:"language"`
	PaidAt   *time.Time    `json:"paidAt,omitempty"`
}

type InvoiceRequest struct {
	OrderID  string `json:"orderId"`
	UserID   string `json:"userId"`
	Language string `json:"language"`
}

// ShippingSettings are the store-wide shipping knobs, in minor units.
type ShippingSettings struct {
	FreeThreshold int64 `json:"freeThreshold"`
	StandardRate  int64 `json:"standardRate"`
}
