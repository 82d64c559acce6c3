package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/client"
	"storefront-payments/internal/model"
)

func frozenCheckout() *model.FrozenCheckout {
	return &model.FrozenCheckout{
		PaymentSessionID: "ps-1",
		UserID:           "u1",
		Currency:         "usd",
		Language:         "en",
		Items: []model.CartLine{
			{ProductID: "tee_classic", Variant: "m", Quantity: 2, UnitPrice: 2500, LineTotal: 5000},
			{ProductID: "mug_enamel", Quantity: 1, UnitPrice: 1800, LineTotal: 1800},
		},
		Subtotal:     6800,
		ShippingCost: 0,
		Discount: model.AppliedDiscount{
			Amount:     1360,
			Type:       model.DiscountPercentage,
			Percentage: percent(20),
			UsageType:  model.UsageOneTime,
		},
		Total: 5440,
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	in := frozenCheckout()

	m := EncodeMetadata(in)
	assert.Equal(t, "ps-1", m[client.MetaPaymentSessionID])
	assert.Equal(t, "5440", m["total"])
	assert.NotContains(t, m, client.MetaOrderID)

	out, err := DecodeMetadata(m)
	require.NoError(t, err)
	assert.Equal(t, in.Items, out.Items)
	assert.Equal(t, in.Subtotal, out.Subtotal)
	assert.Equal(t, in.Total, out.Total)
	assert.Equal(t, in.Discount.Amount, out.Discount.Amount)
	assert.True(t, in.Discount.Percentage.Equal(out.Discount.Percentage))
	assert.Equal(t, in.Discount.UsageType, out.Discount.UsageType)
}

func TestMetadataOmitsItemsThatDoNotFit(t *testing.T) {
	in := frozenCheckout()
	in.Items = nil
	for i := 0; i < 40; i++ {
		in.Items = append(in.Items, model.CartLine{
			ProductID: strings.Repeat("p", 20),
			Quantity:  1,
			UnitPrice: 100,
			LineTotal: 100,
		})
	}
	in.Subtotal = 4000
	in.ShippingCost = 500
	in.Discount = model.AppliedDiscount{}
	in.Total = 4500

	m := EncodeMetadata(in)
	assert.NotContains(t, m, "items")
	for k, v := range m {
		assert.LessOrEqual(t, len(v), maxMetadataValue, k)
	}

	out, err := DecodeMetadata(m)
	require.NoError(t, err)
	assert.Empty(t, out.Items)
	assert.Equal(t, int64(4500), out.Total)
}

func TestDecodeMetadataRejectsMissingTotals(t *testing.T) {
	m := EncodeMetadata(frozenCheckout())
	delete(m, "total")

	_, err := DecodeMetadata(m)
	assert.Error(t, err)
}
