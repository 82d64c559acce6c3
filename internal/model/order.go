package model

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
	OrderCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

var orderTransitions = map[OrderStatus]map[OrderStatus]struct{}{
	OrderPending: {
		OrderProcessing: {},
		OrderCompleted:  {},
		OrderFailed:     {},
		OrderCancelled:  {},
	},
	OrderProcessing: {
		OrderCompleted: {},
		OrderFailed:    {},
		OrderCancelled: {},
	},
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderCompleted, OrderFailed, OrderCancelled:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	_, ok := orderTransitions[s][next]
	return ok
}

// SourcesFor returns every status allowed to move to target, in a stable order.
func SourcesFor(target OrderStatus) []OrderStatus {
	var sources []OrderStatus
	for _, from := range []OrderStatus{OrderPending, OrderProcessing} {
		if from.CanTransitionTo(target) {
			sources = append(sources, from)
		}
	}
	return sources
}

// PaymentOutcome is the provider-reported state of a checkout, normalized across providers.
type PaymentOutcome string

const (
	OutcomePending    PaymentOutcome = "pending"
	OutcomeProcessing PaymentOutcome = "processing"
	OutcomePaid       PaymentOutcome = "paid"
	OutcomeFailed     PaymentOutcome = "failed"
	OutcomeCancelled  PaymentOutcome = "cancelled"
)

// Target maps an outcome to the order and payment status it drives to.
// ok is false for outcomes that do not move an order.
func (o PaymentOutcome) Target() (status OrderStatus, payment PaymentStatus, ok bool) {
	switch o {
	case OutcomeProcessing:
		return OrderProcessing, PaymentPending, true
	case OutcomePaid:
		return OrderCompleted, PaymentPaid, true
	case OutcomeFailed:
		return OrderFailed, PaymentFailed, true
	case OutcomeCancelled:
		return OrderCancelled, PaymentFailed, true
	}
	return "", "", false
}

// Materializable reports whether an order may be created from a checkout in this state.
func (o PaymentOutcome) Materializable() bool {
	return o == OutcomePaid || o == OutcomeProcessing
}
