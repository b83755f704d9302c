package order

// PlaceOrderItem is one cart entry. Price, if sent by the client, is ignored:
// the unit price snapshot is always re-derived server-side.
type PlaceOrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price,omitempty"`
}

type PlaceOrderRequest struct {
	Items           []PlaceOrderItem `json:"items"`
	ShippingAddress ShippingAddress  `json:"shipping_address"`
	PaymentMethod   string           `json:"payment_method"`
	PromoCode       string           `json:"promo_code,omitempty"`
	DeliverySlot    string           `json:"delivery_slot,omitempty"`
	OrderNotes      string           `json:"order_notes,omitempty"`
	GiftMessage     string           `json:"gift_message,omitempty"`
}

// UpdateStatusRequest drives admin transitions. A tracking number without an
// explicit status moves the order to Shipped.
type UpdateStatusRequest struct {
	Status         string `json:"status,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
	ReturnStatus   string `json:"return_status,omitempty"`
	ReturnReason   string `json:"return_reason,omitempty"`
}

type ReturnRequest struct {
	Reason string `json:"reason"`
}

// PayRequest carries the gateway acknowledgement for marking an order paid.
type PayRequest struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	UpdateTime string `json:"update_time"`
	Email      string `json:"email_address"`
}
