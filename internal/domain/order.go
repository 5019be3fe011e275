package domain

// OrderStatus mirrors the storefront's order lifecycle. The reconciliation
// core only ever writes PAID and REFUNDED, and only through the coordinator.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderPaid       OrderStatus = "PAID"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderFulfilled  OrderStatus = "FULFILLED"
	OrderFailed     OrderStatus = "FAILED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderRefunded   OrderStatus = "REFUNDED"
)

// EventKind names the coordinator notifications sent to the storefront.
type EventKind string

const (
	EventKindPaymentCompleted EventKind = "payment_completed"
	EventKindPaymentFailed    EventKind = "payment_failed"
	EventKindPaymentRefunded  EventKind = "payment_refunded"
)
