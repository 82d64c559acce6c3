package service

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"storefront-payments/internal/client"
	"storefront-payments/internal/model"
)

// Provider metadata values are capped at 500 characters.
const maxMetadataValue = 500

const (
	metaSubtotal           = "subtotal"
	metaShippingCost       = "shipping_cost"
	metaDiscountAmount     = "discount_amount"
	metaDiscountType       = "discount_type"
	metaDiscountPercentage = "discount_percentage"
	metaDiscountUsage      = "discount_usage"
	metaTotal              = "total"
	metaCurrency           = "currency"
	metaLanguage           = "language"
	metaItems              = "items"
)

// EncodeMetadata flattens the frozen breakdown into provider metadata. Items are
// included only when their compact JSON fits in one value.
func EncodeMetadata(f *model.FrozenCheckout) map[string]string {
	m := map[string]string{
		client.MetaPaymentSessionID: f.PaymentSessionID,
		client.MetaUserID:           f.UserID,
		metaSubtotal:                strconv.FormatInt(f.Subtotal, 10),
		metaShippingCost:            strconv.FormatInt(f.ShippingCost, 10),
		metaDiscountAmount:          strconv.FormatInt(f.Discount.Amount, 10),
		metaDiscountType:            f.Discount.Type,
		metaDiscountPercentage:      f.Discount.Percentage.String(),
		metaDiscountUsage:           f.Discount.UsageType,
		metaTotal:                   strconv.FormatInt(f.Total, 10),
		metaCurrency:                f.Currency,
		metaLanguage:                f.Language,
	}
	if f.OrderID != "" {
		m[client.MetaOrderID] = f.OrderID
	}

	if len(f.Items) > 0 {
		compact := make([][]any, 0, len(f.Items))
		for _, item := range f.Items {
			compact = append(compact, []any{item.ProductID, item.Variant, item.Quantity, item.UnitPrice})
		}
		if raw, err := json.Marshal(compact); err == nil && len(raw) <= maxMetadataValue {
			m[metaItems] = string(raw)
		}
	}
	return m
}

// DecodeMetadata rebuilds a frozen checkout from provider metadata.
func DecodeMetadata(m map[string]string) (*model.FrozenCheckout, error) {
	f := &model.FrozenCheckout{
		PaymentSessionID: m[client.MetaPaymentSessionID],
		UserID:           m[client.MetaUserID],
		OrderID:          m[client.MetaOrderID],
		Currency:         m[metaCurrency],
		Language:         m[metaLanguage],
		Discount: model.AppliedDiscount{
			Type:       m[metaDiscountType],
			UsageType:  m[metaDiscountUsage],
			Percentage: decimal.Zero,
		},
	}

	var err error
	ints := []struct {
		key string
		dst *int64
	}{
		{metaSubtotal, &f.Subtotal},
		{metaShippingCost, &f.ShippingCost},
		{metaDiscountAmount, &f.Discount.Amount},
		{metaTotal, &f.Total},
	}
	for _, field := range ints {
		raw, ok := m[field.key]
		if !ok {
			return nil, fmt.Errorf("metadata missing %s", field.key)
		}
		if *field.dst, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("metadata %s: %w", field.key, err)
		}
	}

	if raw := m[metaDiscountPercentage]; raw != "" {
		if f.Discount.Percentage, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("metadata %s: %w", metaDiscountPercentage, err)
		}
	}

	if raw := m[metaItems]; raw != "" {
		var compact [][]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &compact); err != nil {
			return nil, fmt.Errorf("metadata %s: %w", metaItems, err)
		}
		for _, row := range compact {
			if len(row) != 4 {
				return nil, fmt.Errorf("metadata %s: malformed line", metaItems)
			}
			var line model.CartLine
			if err := json.Unmarshal(row[0], &line.ProductID); err != nil {
				return nil, fmt.Errorf("metadata %s: %w", metaItems, err)
			}
			if err := json.Unmarshal(row[1], &line.Variant); err != nil {
				return nil, fmt.Errorf("metadata %s: %w", metaItems, err)
			}
			if err := json.Unmarshal(row[2], &line.Quantity); err != nil {
				return nil, fmt.Errorf("metadata %s: %w", metaItems, err)
			}
			if err := json.Unmarshal(row[3], &line.UnitPrice); err != nil {
				return nil, fmt.Errorf("metadata %s: %w", metaItems, err)
			}
			line.LineTotal = line.UnitPrice * line.Quantity
			f.Items = append(f.Items, line)
		}
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
