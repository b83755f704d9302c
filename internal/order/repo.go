package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// reserveAttempts bounds the transparent retry on transient transaction
// conflicts: one retry, then the commit fails for the caller.
const reserveAttempts = 2

type Repository interface {
	// CreateWithReservation atomically checks and decrements stock for every
	// line item and persists the order, all in one transaction.
	CreateWithReservation(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)
	List(ctx context.Context, limit, offset int) ([]Order, error)
	// UpdateStatus persists a transition guarded by the previous status and
	// return status so a concurrent transition loses cleanly instead of
	// overwriting. Payment, delivery and tracking fields are written
	// monotonically and are never reverted by a stale read.
	UpdateStatus(ctx context.Context, o *Order, prev Status, prevReturn ReturnStatus) error
	// CancelWithRestock flips the order to Cancelled and restores every line
	// item's stock in the same transaction.
	CancelWithRestock(ctx context.Context, id string) (*Order, error)
	MarkPaid(ctx context.Context, id string, res PaymentResult) (*Order, error)
	SetReturnStatus(ctx context.Context, id string, rs ReturnStatus, reason string) (*Order, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const orderCols = `
	id, user_id, status, return_status, COALESCE(return_reason,''), payment_method,
	items_price::text, tax_price::text, shipping_price::text, discount_amount::text, total_price::text,
	COALESCE(promo_code,''),
	ship_address, ship_city, COALESCE(ship_state,''), ship_postal_code, ship_country, COALESCE(ship_phone,''),
	COALESCE(delivery_slot,''), COALESCE(order_notes,''), COALESCE(gift_message,''),
	COALESCE(tracking_number,''), COALESCE(tracking_url,''), COALESCE(carrier,''),
	is_paid, paid_at,
	COALESCE(pay_result_id,''), COALESCE(pay_result_status,''), COALESCE(pay_result_update_time,''), COALESCE(pay_result_email,''),
	is_delivered, delivered_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status, returnStatus string
	err := row.Scan(
		&o.ID, &o.UserID, &status, &returnStatus, &o.ReturnReason, &o.PaymentMethod,
		&o.ItemsPrice, &o.TaxPrice, &o.ShippingPrice, &o.DiscountAmount, &o.TotalPrice,
		&o.PromoCode,
		&o.ShippingAddress.Address, &o.ShippingAddress.City, &o.ShippingAddress.State,
		&o.ShippingAddress.PostalCode, &o.ShippingAddress.Country, &o.ShippingAddress.Phone,
		&o.DeliverySlot, &o.OrderNotes, &o.GiftMessage,
		&o.TrackingNumber, &o.TrackingURL, &o.Carrier,
		&o.IsPaid, &o.PaidAt,
		&o.PaymentResult.ID, &o.PaymentResult.Status, &o.PaymentResult.UpdateTime, &o.PaymentResult.Email,
		&o.IsDelivered, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.ReturnStatus = ReturnStatus(returnStatus)
	return &o, nil
}

func (r *PGRepo) CreateWithReservation(ctx context.Context, o *Order) error {
	var lastErr error
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		err := r.tryReserve(ctx, o)
		if err == nil {
			return nil
		}
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			return err
		}
		if !isTransient(err) {
			return fmt.Errorf("%w: %v", ErrCommitFailed, err)
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrCommitFailed, lastErr)
}

func (r *PGRepo) tryReserve(ctx context.Context, o *Order) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}

	// Lock every referenced product row in a stable order, then validate all
	// quantities before touching anything. FOR UPDATE makes concurrent
	// reservations against the same product serialize on these rows.
	rows, err := tx.Query(ctx, `
		SELECT id, name, stock FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return err
	}
	type lockedProduct struct {
		name  string
		stock int
	}
	locked := make(map[string]lockedProduct, len(ids))
	for rows.Next() {
		var id, name string
		var stock int
		if err := rows.Scan(&id, &name, &stock); err != nil {
			rows.Close()
			return err
		}
		locked[id] = lockedProduct{name: name, stock: stock}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var shortages []Shortage
	for _, it := range o.Items {
		p, ok := locked[it.ProductID]
		if !ok {
			shortages = append(shortages, Shortage{ProductID: it.ProductID, Requested: it.Quantity, Missing: true})
			continue
		}
		if p.stock < it.Quantity {
			shortages = append(shortages, Shortage{
				ProductID: it.ProductID,
				Name:      p.name,
				Requested: it.Quantity,
				Available: p.stock,
			})
		}
	}
	if len(shortages) > 0 {
		// Abort the whole unit: rollback leaves every stock untouched.
		return &InsufficientStockError{Shortages: shortages}
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = NOW() WHERE id = $1
		`, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (
			id, user_id, status, return_status, return_reason, payment_method,
			items_price, tax_price, shipping_price, discount_amount, total_price, promo_code,
			ship_address, ship_city, ship_state, ship_postal_code, ship_country, ship_phone,
			delivery_slot, order_notes, gift_message,
			is_paid, is_delivered, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,NULLIF($5,''),$6,
			$7,$8,$9,$10,$11,NULLIF($12,''),
			$13,$14,NULLIF($15,''),$16,$17,NULLIF($18,''),
			NULLIF($19,''),NULLIF($20,''),NULLIF($21,''),
			FALSE,FALSE,NOW(),NOW()
		)
	`, o.ID, o.UserID, string(o.Status), string(o.ReturnStatus), o.ReturnReason, o.PaymentMethod,
		o.ItemsPrice, o.TaxPrice, o.ShippingPrice, o.DiscountAmount, o.TotalPrice, o.PromoCode,
		o.ShippingAddress.Address, o.ShippingAddress.City, o.ShippingAddress.State,
		o.ShippingAddress.PostalCode, o.ShippingAddress.Country, o.ShippingAddress.Phone,
		o.DeliverySlot, o.OrderNotes, o.GiftMessage); err != nil {
		return err
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, image_url, quantity, price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, it.ID, o.ID, it.ProductID, it.Name, it.ImageURL, it.Quantity, it.Price); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// isTransient reports whether the error is a serialization or deadlock
// conflict worth one retry.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	items, err := r.getItems(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PGRepo) getItems(ctx context.Context, q querier, orderID string) ([]Item, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, name, COALESCE(image_url,''), quantity, price::text
		FROM order_items WHERE order_id=$1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.ImageURL, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	return r.list(ctx, `WHERE user_id=$3`, limit, offset, userID)
}

func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Order, error) {
	return r.list(ctx, ``, limit, offset)
}

func (r *PGRepo) list(ctx context.Context, where string, limit, offset int, extra ...any) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	args := append([]any{limit, offset}, extra...)
	rows, err := r.db.Query(ctx, `
		SELECT `+orderCols+` FROM orders `+where+`
		ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *PGRepo) UpdateStatus(ctx context.Context, o *Order, prev Status, prevReturn ReturnStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// OR/COALESCE keeps the flag writes monotonic: a MarkPaid landing between
	// the caller's read and this write survives, and an existing tracking
	// number is never wiped by a transition that does not carry one.
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $4,
		    return_status = $5,
		    tracking_number = COALESCE(NULLIF($6,''), tracking_number),
		    tracking_url = COALESCE(NULLIF($7,''), tracking_url),
		    carrier = COALESCE(NULLIF($8,''), carrier),
		    is_paid = is_paid OR $9,
		    paid_at = COALESCE(paid_at, $10),
		    is_delivered = is_delivered OR $11,
		    delivered_at = COALESCE(delivered_at, $12),
		    return_reason = COALESCE(NULLIF($13,''), return_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2 AND return_status = $3
	`, o.ID, string(prev), string(prevReturn),
		string(o.Status), string(o.ReturnStatus),
		o.TrackingNumber, o.TrackingURL, o.Carrier,
		o.IsPaid, o.PaidAt, o.IsDelivered, o.DeliveredAt,
		o.ReturnReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the order vanished or another transition won the race.
		if _, err := r.GetByID(ctx, o.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

func (r *PGRepo) CancelWithRestock(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRestorationFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the order row first so a concurrent cancel cannot double-restore.
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRestorationFailed, err)
	}
	if o.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}
	if o.Status.Terminal() {
		return nil, ErrInvalidTransition
	}

	items, err := r.getItems(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRestorationFailed, err)
	}

	// All items restored or nothing: a failed increment aborts the whole
	// cancellation and the status stays unchanged.
	for _, it := range items {
		tag, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1
		`, it.ProductID, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRestorationFailed, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("%w: product %s no longer exists", ErrRestorationFailed, it.ProductID)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1
	`, id, string(StatusCancelled)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRestorationFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRestorationFailed, err)
	}

	o.Status = StatusCancelled
	o.Items = items
	return o, nil
}

func (r *PGRepo) MarkPaid(ctx context.Context, id string, res PaymentResult) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET is_paid = TRUE,
		    paid_at = NOW(),
		    pay_result_id = NULLIF($2,''),
		    pay_result_status = NULLIF($3,''),
		    pay_result_update_time = NULLIF($4,''),
		    pay_result_email = NULLIF($5,''),
		    updated_at = NOW()
		WHERE id = $1
	`, id, res.ID, res.Status, res.UpdateTime, res.Email)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *PGRepo) SetReturnStatus(ctx context.Context, id string, rs ReturnStatus, reason string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET return_status = $2,
		    return_reason = COALESCE(NULLIF($3,''), return_reason),
		    updated_at = NOW()
		WHERE id = $1
	`, id, string(rs), reason)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}
