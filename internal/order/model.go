package order

import "time"

// Status is the order lifecycle state. Transitions move forward only
// (skipping intermediate stages is allowed for admin corrections), with
// Cancelled reachable from any non-terminal state.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusShipped:    2,
	StatusDelivered:  3,
}

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// Terminal reports whether no further lifecycle transition is allowed.
// Delivered orders still move through the return sub-state.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return false
	}
	if next == StatusCancelled {
		return !s.Terminal()
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// ReturnStatus is the independent return sub-state layered on delivered
// orders: None -> Requested -> Approved|Rejected -> Refunded.
type ReturnStatus string

const (
	ReturnNone      ReturnStatus = "None"
	ReturnRequested ReturnStatus = "Requested"
	ReturnApproved  ReturnStatus = "Approved"
	ReturnRejected  ReturnStatus = "Rejected"
	ReturnRefunded  ReturnStatus = "Refunded"
)

func ParseReturnStatus(s string) (ReturnStatus, bool) {
	switch ReturnStatus(s) {
	case ReturnNone, ReturnRequested, ReturnApproved, ReturnRejected, ReturnRefunded:
		return ReturnStatus(s), true
	}
	return "", false
}

func (r ReturnStatus) CanTransitionTo(next ReturnStatus) bool {
	switch r {
	case ReturnNone:
		return next == ReturnRequested
	case ReturnRequested:
		return next == ReturnApproved || next == ReturnRejected
	case ReturnApproved:
		return next == ReturnRefunded
	}
	return false
}

// PaymentMethodCOD is the only payment method currently accepted.
const PaymentMethodCOD = "COD"

type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// PaymentResult records the gateway acknowledgement for a paid order.
type PaymentResult struct {
	ID         string `json:"id,omitempty"`
	Status     string `json:"status,omitempty"`
	UpdateTime string `json:"update_time,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Item is a line item with the name/price/image snapshot taken at order time.
type Item struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	ImageURL  string `json:"image_url,omitempty"`
	Quantity  int    `json:"quantity"`
	// Price is the unit price snapshot (NUMERIC -> string)
	Price string `json:"price"`
}

type Order struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Status Status `json:"status"`

	Items           []Item          `json:"items"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`

	// Itemized prices, NUMERIC -> string. Invariant:
	// total = items + tax + shipping - discount.
	ItemsPrice     string `json:"items_price"`
	TaxPrice       string `json:"tax_price"`
	ShippingPrice  string `json:"shipping_price"`
	DiscountAmount string `json:"discount_amount"`
	TotalPrice     string `json:"total_price"`
	PromoCode      string `json:"promo_code,omitempty"`

	DeliverySlot string `json:"delivery_slot,omitempty"`
	OrderNotes   string `json:"order_notes,omitempty"`
	GiftMessage  string `json:"gift_message,omitempty"`

	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	Carrier        string `json:"carrier,omitempty"`

	IsPaid        bool          `json:"is_paid"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	PaymentResult PaymentResult `json:"payment_result,omitempty"`

	IsDelivered bool       `json:"is_delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	ReturnStatus ReturnStatus `json:"return_status"`
	ReturnReason string       `json:"return_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
