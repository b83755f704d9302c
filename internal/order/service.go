package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techturf/marketplace/internal/notify"
	"github.com/techturf/marketplace/internal/product"
	"github.com/techturf/marketplace/internal/promo"
)

// ProductSource is the advisory read path for product snapshots. Stock is
// re-validated inside the reservation transaction, never from these reads.
type ProductSource interface {
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

type PromoSource interface {
	GetByCode(ctx context.Context, code string) (*promo.Promo, error)
}

// Broadcaster fans a change event out to real-time subscribers.
type Broadcaster interface {
	Broadcast(ev notify.Event)
}

// CODConfig gates cash-on-delivery eligibility.
type CODConfig struct {
	Enabled   bool
	Fee       decimal.Decimal
	MaxAmount decimal.Decimal
	Regions   []string
}

type Options struct {
	Pricing    PricingConfig
	COD        CODConfig
	Dispatcher notify.Dispatcher
	Broadcast  Broadcaster
	Now        func() time.Time
}

type Service struct {
	repo     Repository
	products ProductSource
	promos   PromoSource
	pricing  PricingConfig
	cod      CODConfig
	dispatch notify.Dispatcher
	hub      Broadcaster
	now      func() time.Time
}

func NewService(repo Repository, products ProductSource, promos PromoSource, opts Options) *Service {
	if opts.Dispatcher == nil {
		opts.Dispatcher = notify.NewLogDispatcher()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:     repo,
		products: products,
		promos:   promos,
		pricing:  opts.Pricing,
		cod:      opts.COD,
		dispatch: opts.Dispatcher,
		hub:      opts.Broadcast,
		now:      opts.Now,
	}
}

// PlaceOrder validates the cart, derives prices server-side, applies the
// promo, and commits the reservation. It either fully succeeds or fully
// fails: no partial order, no partial stock decrement.
func (s *Service) PlaceOrder(ctx context.Context, userID string, req PlaceOrderRequest) (*Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: no order items", ErrInvalidInput)
	}
	if req.PaymentMethod != PaymentMethodCOD {
		return nil, fmt.Errorf("%w: only cash on delivery is available", ErrInvalidInput)
	}
	addr := req.ShippingAddress
	if addr.Address == "" || addr.City == "" || addr.PostalCode == "" || addr.Country == "" {
		return nil, fmt.Errorf("%w: incomplete shipping address", ErrInvalidInput)
	}

	items, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	quote := ComputeQuote(items, s.pricing)

	fee, err := s.validateCOD(quote, addr)
	if err != nil {
		return nil, err
	}
	quote.ShippingPrice = quote.ShippingPrice.Add(fee)

	promoCode := ""
	if req.PromoCode != "" {
		promoCode = strings.ToUpper(strings.TrimSpace(req.PromoCode))
		discount, err := s.promoDiscount(ctx, promoCode, quote.ItemsPrice)
		if err != nil {
			return nil, err
		}
		quote.DiscountAmount = discount
	}

	if quote.Total().GreaterThan(s.cod.MaxAmount) && s.cod.MaxAmount.IsPositive() {
		return nil, fmt.Errorf("%w: cash on delivery is not available for orders above %s", ErrInvalidInput, s.cod.MaxAmount)
	}

	o := &Order{
		ID:              uuid.NewString(),
		UserID:          userID,
		Status:          StatusPending,
		ReturnStatus:    ReturnNone,
		Items:           items,
		ShippingAddress: addr,
		PaymentMethod:   req.PaymentMethod,
		PromoCode:       promoCode,
		DeliverySlot:    req.DeliverySlot,
		OrderNotes:      req.OrderNotes,
		GiftMessage:     req.GiftMessage,
	}
	quote.Apply(o)
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
	}

	if err := s.repo.CreateWithReservation(ctx, o); err != nil {
		return nil, err
	}

	s.emit(notify.KindOrderCreated, o)
	return o, nil
}

// resolveItems merges duplicate product lines and takes the name/price/image
// snapshot from the catalog. Missing products are aggregated so the caller
// sees every problem at once.
func (s *Service) resolveItems(ctx context.Context, in []PlaceOrderItem) ([]Item, error) {
	merged := make(map[string]int, len(in))
	ordered := make([]string, 0, len(in))
	for _, it := range in {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: every item needs a product id and a positive quantity", ErrInvalidInput)
		}
		if _, seen := merged[it.ProductID]; !seen {
			ordered = append(ordered, it.ProductID)
		}
		merged[it.ProductID] += it.Quantity
	}

	var items []Item
	var missing []Shortage
	for _, id := range ordered {
		p, err := s.products.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				missing = append(missing, Shortage{ProductID: id, Requested: merged[id], Missing: true})
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrCommitFailed, err)
		}
		items = append(items, Item{
			ID:        uuid.NewString(),
			ProductID: p.ID,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
			Quantity:  merged[id],
			Price:     p.Price,
		})
	}
	if len(missing) > 0 {
		return nil, &InsufficientStockError{Shortages: missing}
	}
	return items, nil
}

func (s *Service) validateCOD(quote Quote, addr ShippingAddress) (decimal.Decimal, error) {
	if !s.cod.Enabled {
		return decimal.Zero, fmt.Errorf("%w: cash on delivery is currently not available", ErrInvalidInput)
	}
	if len(s.cod.Regions) > 0 {
		ok := false
		for _, r := range s.cod.Regions {
			if strings.EqualFold(r, addr.Country) {
				ok = true
				break
			}
		}
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: cash on delivery is not available in %s", ErrInvalidInput, addr.Country)
		}
	}
	fee := s.cod.Fee
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	return fee, nil
}

// promoDiscount always consults the promo source so an admin deactivation is
// honored on the very next order. Caching, if configured, lives behind the
// source and is invalidated on promo writes.
func (s *Service) promoDiscount(ctx context.Context, code string, itemsPrice decimal.Decimal) (decimal.Decimal, error) {
	p, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, promo.ErrNotFound) {
			return decimal.Zero, promo.ErrInvalidPromo
		}
		return decimal.Zero, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	return promo.Discount(p, itemsPrice, s.now())
}

func (s *Service) GetForUser(ctx context.Context, id, userID string, admin bool) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && o.UserID != userID {
		return nil, ErrNotOwner
	}
	return o, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]Order, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateStatus applies one admin transition. Cancellations route through
// Cancel so stock restoration and the status flip stay atomic.
func (s *Service) UpdateStatus(ctx context.Context, id string, req UpdateStatusRequest) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := o.Status
	prevReturn := o.ReturnStatus

	statusStr := req.Status
	if statusStr == "" && req.TrackingNumber != "" {
		statusStr = string(StatusShipped)
	}

	changed := false
	if statusStr != "" {
		next, ok := ParseStatus(statusStr)
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, statusStr)
		}
		if next == StatusCancelled {
			// Cancellation is its own atomic path; combining it with
			// tracking or return changes would silently drop them.
			if req.TrackingNumber != "" || req.ReturnStatus != "" {
				return nil, fmt.Errorf("%w: cancellation cannot be combined with tracking or return changes", ErrInvalidInput)
			}
			return s.Cancel(ctx, id)
		}
		if next != prev {
			if !prev.CanTransitionTo(next) {
				return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
			}
			o.Status = next
			changed = true
		}
	}

	if req.TrackingNumber != "" {
		o.TrackingNumber = req.TrackingNumber
		o.TrackingURL = req.TrackingURL
		o.Carrier = req.Carrier
		changed = true
	}

	if req.ReturnStatus != "" {
		next, ok := ParseReturnStatus(req.ReturnStatus)
		if !ok {
			return nil, fmt.Errorf("%w: unknown return status %q", ErrInvalidInput, req.ReturnStatus)
		}
		if next != o.ReturnStatus {
			if !o.ReturnStatus.CanTransitionTo(next) {
				return nil, fmt.Errorf("%w: return %s -> %s", ErrInvalidTransition, o.ReturnStatus, next)
			}
			o.ReturnStatus = next
			if req.ReturnReason != "" {
				o.ReturnReason = req.ReturnReason
			}
			changed = true
		}
	}

	if !changed {
		return o, nil
	}

	if o.Status == StatusDelivered && !o.IsDelivered {
		now := s.now()
		o.IsDelivered = true
		o.DeliveredAt = &now
		// COD collects cash at the door, so delivery implies payment.
		if o.PaymentMethod == PaymentMethodCOD && !o.IsPaid {
			o.IsPaid = true
			o.PaidAt = &now
		}
	}

	if err := s.repo.UpdateStatus(ctx, o, prev, prevReturn); err != nil {
		return nil, err
	}

	s.emit(notify.KindOrderUpdated, o)
	return o, nil
}

// Cancel flips the order to Cancelled, restoring every line item's stock as
// one atomic unit.
func (s *Service) Cancel(ctx context.Context, id string) (*Order, error) {
	o, err := s.repo.CancelWithRestock(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emit(notify.KindOrderUpdated, o)
	return o, nil
}

func (s *Service) MarkPaid(ctx context.Context, id string, req PayRequest) (*Order, error) {
	o, err := s.repo.MarkPaid(ctx, id, PaymentResult{
		ID:         req.ID,
		Status:     req.Status,
		UpdateTime: req.UpdateTime,
		Email:      req.Email,
	})
	if err != nil {
		return nil, err
	}
	s.emit(notify.KindOrderUpdated, o)
	return o, nil
}

// RequestReturn starts the return sub-state for the order's owner.
func (s *Service) RequestReturn(ctx context.Context, id, userID, reason string) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotOwner
	}
	if o.ReturnStatus != ReturnNone {
		return nil, ErrReturnAlreadyRequested
	}
	if reason == "" {
		reason = "Not specified"
	}
	updated, err := s.repo.SetReturnStatus(ctx, id, ReturnRequested, reason)
	if err != nil {
		return nil, err
	}
	s.emit(notify.KindReturnRequested, updated)
	return updated, nil
}

// emit publishes the change event to the realtime hub and the dispatcher.
// Best-effort on both paths: a notification failure never rolls back or
// blocks the committed transition.
func (s *Service) emit(kind string, o *Order) {
	ev := notify.Event{
		Kind:        kind,
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		IsPaid:      o.IsPaid,
		IsDelivered: o.IsDelivered,
		Total:       o.TotalPrice,
		OccurredAt:  s.now(),
	}
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
	d := s.dispatch
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[notify] dispatch panic: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.Dispatch(ctx, ev); err != nil {
			log.Printf("[notify] dispatch failed for order %s: %v", ev.OrderID, err)
		}
	}()
}
