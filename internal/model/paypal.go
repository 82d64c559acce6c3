package model

// PayPal Orders v2 and webhook wire types.

type PaypalLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type PaypalMoney struct {
	Currency string `json:"currency_code"`
	Value    string `json:"value"`
}

type PaypalBreakdown struct {
	ItemTotal *PaypalMoney `json:"item_total,omitempty"`
	Shipping  *PaypalMoney `json:"shipping,omitempty"`
	Discount  *PaypalMoney `json:"discount,omitempty"`
}

type PaypalAmount struct {
	Currency  string           `json:"currency_code"`
	Value     string           `json:"value"`
	Breakdown *PaypalBreakdown `json:"breakdown,omitempty"`
}

type PaypalItem struct {
	Name       string      `json:"name"`
	SKU        string      `json:"sku,omitempty"`
	Quantity   string      `json:"quantity"`
	UnitAmount PaypalMoney `json:"unit_amount"`
}

type PaypalCapture struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Amount PaypalMoney `json:"amount"`
}

type PaypalPayments struct {
	Captures []PaypalCapture `json:"captures"`
}

type PaypalPurchaseUnit struct {
	ReferenceID string          `json:"reference_id,omitempty"`
	CustomID    string          `json:"custom_id,omitempty"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
	Amount      *PaypalAmount   `json:"amount,omitempty"`
	Items       []PaypalItem    `json:"items,omitempty"`
	Payments    *PaypalPayments `json:"payments,omitempty"`
}

type PaypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"` // CREATED, APPROVED, COMPLETED, VOIDED
	Links         []PaypalLink         `json:"links"`
	PurchaseUnits []PaypalPurchaseUnit `json:"purchase_units"`
}

type PaypalRelatedIDs struct {
	OrderID string `json:"order_id"`
}

type PaypalSupplementaryData struct {
	RelatedIDs PaypalRelatedIDs `json:"related_ids"`
}

// PaypalResource covers both order resources (CHECKOUT.ORDER.*) and capture resources (PAYMENT.CAPTURE.*).
type PaypalResource struct {
	ID                string                  `json:"id"`
	Status            string                  `json:"status"`
	CustomID          string                  `json:"custom_id"`
	Amount            *PaypalMoney            `json:"amount,omitempty"`
	PurchaseUnits     []PaypalPurchaseUnit    `json:"purchase_units"`
	SupplementaryData PaypalSupplementaryData `json:"supplementary_data"`
}

type PaypalWebhookEvent struct {
	ID           string         `json:"id"`
	EventType    string         `json:"event_type"`
	ResourceType string         `json:"resource_type"`
	CreateTime   string         `json:"create_time"`
	Resource     PaypalResource `json:"resource"`
}
