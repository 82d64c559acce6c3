package dto

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"storefront-payments/internal/model"
)

// Validator is implemented by request bodies that check themselves after Bind.
type Validator interface {
	Validate() error
}

type IntentRequest struct {
	UserID  string `json:"userId"`
	OrderID string `json:"orderId,omitempty"`
}

func (r *IntentRequest) Validate() error {
	return nil
}

type IntentResponse struct {
	ClientSecret string `json:"clientSecret"`
	IntentID     string `json:"intentId"`
	Total        int64  `json:"total"`
	Currency     string `json:"currency"`
}

type OrderData struct {
	OrderID  string `json:"orderId,omitempty"`
	Total    *int64 `json:"total,omitempty"`
	Language string `json:"language,omitempty"`
}

type CheckoutSessionRequest struct {
	OrderData     OrderData `json:"orderData"`
	UserID        string    `json:"userId"`
	PaymentMethod string    `json:"paymentMethod"`
	SuccessURL    string    `json:"successUrl"`
	CancelURL     string    `json:"cancelUrl"`
}

func (r *CheckoutSessionRequest) Validate() error {
	if err := validURL("successUrl", r.SuccessURL); err != nil {
		return err
	}
	if err := validURL("cancelUrl", r.CancelURL); err != nil {
		return err
	}
	if r.OrderData.Total != nil && *r.OrderData.Total < 0 {
		return fmt.Errorf("orderData.total must not be negative")
	}
	return nil
}

type CheckoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Total     int64  `json:"total"`
	Currency  string `json:"currency"`
}

type ConfirmRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

func (r *ConfirmRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("sessionId is required")
	}
	return nil
}

type ConfirmResponse struct {
	OrderID string         `json:"orderId"`
	Order   *OrderResponse `json:"order"`
}

type AddCartItemRequest struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant,omitempty"`
	Quantity  int64  `json:"quantity"`
}

func (r *AddCartItemRequest) Validate() error {
	if strings.TrimSpace(r.ProductID) == "" {
		return fmt.Errorf("productId is required")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	return nil
}

type UpdateCartItemRequest struct {
	Variant  string `json:"variant,omitempty"`
	Quantity int64  `json:"quantity"`
}

func (r *UpdateCartItemRequest) Validate() error {
	if r.Quantity < 0 {
		return fmt.Errorf("quantity must not be negative")
	}
	return nil
}

type CartResponse struct {
	Items    []model.CartLine `json:"items"`
	Subtotal int64            `json:"subtotal"`
	Currency string           `json:"currency"`
}

func NewCartResponse(s *model.CartSnapshot) *CartResponse {
	items := s.Items
	if items == nil {
		items = []model.CartLine{}
	}
	return &CartResponse{Items: items, Subtotal: s.Subtotal, Currency: s.Currency}
}

type CreateOrderRequest struct {
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

func (r *CreateOrderRequest) Validate() error {
	if len(r.IdempotencyKey) > 64 {
		return fmt.Errorf("idempotencyKey must be at most 64 characters")
	}
	return nil
}

type OrderItemResponse struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Variant   string `json:"variant,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

type OrderResponse struct {
	ID                 string              `json:"id"`
	UserID             string              `json:"userId"`
	Status             string              `json:"status"`
	PaymentStatus      string              `json:"paymentStatus"`
	Subtotal           int64               `json:"subtotal"`
	ShippingCost       int64               `json:"shippingCost"`
	DiscountAmount     int64               `json:"discountAmount"`
	DiscountType       string              `json:"discountType,omitempty"`
	DiscountPercentage string              `json:"discountPercentage,omitempty"`
	Total              int64               `json:"total"`
	Currency           string              `json:"currency"`
	Provider           string              `json:"provider,omitempty"`
	PaymentReference   string              `json:"paymentReference,omitempty"`
	PaidAt             *time.Time          `json:"paidAt,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
	Items              []OrderItemResponse `json:"items"`
}

func NewOrderResponse(o *model.Order) *OrderResponse {
	res := &OrderResponse{
		ID:               o.ID,
		UserID:           o.UserID,
		Status:           string(o.Status),
		PaymentStatus:    string(o.PaymentStatus),
		Subtotal:         o.Subtotal,
		ShippingCost:     o.ShippingCost,
		DiscountAmount:   o.DiscountAmount,
		DiscountType:     o.DiscountType,
		Total:            o.Total,
		Currency:         o.Currency,
		Provider:         o.Provider,
		PaymentReference: o.PaymentReference,
		PaidAt:           o.PaidAt,
		CreatedAt:        o.CreatedAt,
		Items:            make([]OrderItemResponse, 0, len(o.Items)),
	}
	if o.DiscountPercentage.IsPositive() {
		res.DiscountPercentage = o.DiscountPercentage.String()
	}
	for _, item := range o.Items {
		res.Items = append(res.Items, OrderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Variant:   item.Variant,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	return res
}

type ShippingSettingsRequest struct {
	FreeShippingThreshold *int64 `json:"freeShippingThreshold"`
	StandardShippingRate  *int64 `json:"standardShippingRate"`
}

func (r *ShippingSettingsRequest) Validate() error {
	if r.FreeShippingThreshold == nil || r.StandardShippingRate == nil {
		return fmt.Errorf("freeShippingThreshold and standardShippingRate are required")
	}
	return nil
}

type ShippingSettingsResponse struct {
	FreeShippingThreshold int64 `json:"freeShippingThreshold"`
	StandardShippingRate  int64 `json:"standardShippingRate"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func validURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url", field)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", field)
	}
	return nil
}
