package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists orders. Implementations enforce uniqueness of the
// order number and of (user, idempotency key), reporting violations as
// ErrDuplicateOrderNumber and ErrDuplicateIdempotencyKey.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)
	// UpdateStatus moves id from one status to another, failing with
	// ErrInvalidTransition if the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status) (*Order, error)
}

const (
	pgUniqueViolation       = "23505"
	pgOrderNumberConstraint = "orders_order_number_key"
	pgIdempotencyConstraint = "orders_user_idempotency_key"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
  id                      TEXT PRIMARY KEY,
  order_number            TEXT NOT NULL,
  user_id                 TEXT NOT NULL,
  merchant_id             TEXT NOT NULL,
  street                  TEXT NOT NULL DEFAULT '',
  city                    TEXT NOT NULL,
  state                   TEXT NOT NULL DEFAULT '',
  pincode                 TEXT NOT NULL,
  latitude                DOUBLE PRECISION,
  longitude               DOUBLE PRECISION,
  subtotal                NUMERIC(12,2) NOT NULL,
  delivery_fee            NUMERIC(12,2) NOT NULL,
  total                   NUMERIC(12,2) NOT NULL,
  status                  TEXT NOT NULL,
  payment_method          TEXT NOT NULL,
  payment_status          TEXT NOT NULL,
  estimated_delivery_time TEXT NOT NULL DEFAULT '',
  idempotency_key         TEXT,
  created_at              TIMESTAMPTZ NOT NULL,
  updated_at              TIMESTAMPTZ NOT NULL,
  CONSTRAINT orders_order_number_key UNIQUE (order_number)
);
CREATE UNIQUE INDEX IF NOT EXISTS orders_user_idempotency_key
  ON orders (user_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC);
CREATE TABLE IF NOT EXISTS order_items (
  order_id      TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  position      INT NOT NULL,
  product_id    TEXT NOT NULL,
  product_name  TEXT NOT NULL,
  product_price NUMERIC(12,2) NOT NULL,
  quantity      INT NOT NULL CHECK (quantity > 0),
  subtotal      NUMERIC(12,2) NOT NULL,
  PRIMARY KEY (order_id, position)
);`

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// Create writes the order and its items in one transaction.
func (r *PGRepo) Create(ctx context.Context, o *Order) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lat, lng *float64
	if c := o.DeliveryAddress.Coordinates; c != nil {
		lat, lng = &c.Latitude, &c.Longitude
	}
	var idem *string
	if o.IdempotencyKey != "" {
		idem = &o.IdempotencyKey
	}

	if _, err := tx.Exec(ctx, `
    INSERT INTO orders (id, order_number, user_id, merchant_id, street, city, state, pincode,
      latitude, longitude, subtotal, delivery_fee, total, status, payment_method, payment_status,
      estimated_delivery_time, idempotency_key, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::numeric,$12::numeric,$13::numeric,$14,$15,$16,$17,$18,$19,$20)
  `, o.ID, o.OrderNumber, o.UserID, o.MerchantID,
		o.DeliveryAddress.Street, o.DeliveryAddress.City, o.DeliveryAddress.State, o.DeliveryAddress.Pincode,
		lat, lng, o.Subtotal.String(), o.DeliveryFee.String(), o.Total.String(),
		string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus),
		o.EstimatedDeliveryTime, idem, o.CreatedAt, o.UpdatedAt); err != nil {
		return mapPGError(err)
	}

	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
      INSERT INTO order_items (order_id, position, product_id, product_name, product_price, quantity, subtotal)
      VALUES ($1,$2,$3,$4,$5::numeric,$6,$7::numeric)
    `, o.ID, i, it.ProductID, it.ProductName, it.ProductPrice.String(), it.Quantity, it.Subtotal.String()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case pgOrderNumberConstraint:
			return ErrDuplicateOrderNumber
		case pgIdempotencyConstraint:
			return ErrDuplicateIdempotencyKey
		}
	}
	return err
}

const orderColumns = `id, order_number, user_id, merchant_id, street, city, state, pincode,
  latitude, longitude, subtotal::text, delivery_fee::text, total::text, status, payment_method,
  payment_status, estimated_delivery_time, COALESCE(idempotency_key, ''), created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                      Order
		lat, lng               *float64
		subtotal, fee, total   string
		status, method, paySts string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.MerchantID,
		&o.DeliveryAddress.Street, &o.DeliveryAddress.City, &o.DeliveryAddress.State, &o.DeliveryAddress.Pincode,
		&lat, &lng, &subtotal, &fee, &total, &status, &method, &paySts,
		&o.EstimatedDeliveryTime, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		o.DeliveryAddress.Coordinates = &Coordinates{Latitude: *lat, Longitude: *lng}
	}
	o.Status, o.PaymentMethod, o.PaymentStatus = Status(status), PaymentMethod(method), PaymentStatus(paySts)
	if o.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, err
	}
	if o.DeliveryFee, err = decimal.NewFromString(fee); err != nil {
		return nil, err
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PGRepo) loadItems(ctx context.Context, o *Order) error {
	rows, err := r.db.Query(ctx, `
    SELECT product_id, product_name, product_price::text, quantity, subtotal::text
    FROM order_items WHERE order_id=$1 ORDER BY position
  `, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	o.Items = o.Items[:0]
	for rows.Next() {
		var it LineItem
		var price, sub string
		if err := rows.Scan(&it.ProductID, &it.ProductName, &price, &it.Quantity, &sub); err != nil {
			return err
		}
		if it.ProductPrice, err = decimal.NewFromString(price); err != nil {
			return err
		}
		if it.Subtotal, err = decimal.NewFromString(sub); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r *PGRepo) getOne(ctx context.Context, where string, args ...any) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	return r.getOne(ctx, `id=$1`, id)
}

func (r *PGRepo) GetByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error) {
	return r.getOne(ctx, `user_id=$1 AND idempotency_key=$2`, userID, key)
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.db.Query(ctx, `
    SELECT `+orderColumns+`
    FROM orders WHERE user_id=$1
    ORDER BY created_at DESC LIMIT $2 OFFSET $3
  `, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadItems(ctx, &out[i]); err != nil {
			return nil, fmt.Errorf("items of %s: %w", out[i].ID, err)
		}
	}
	return out, nil
}

func (r *PGRepo) UpdateStatus(ctx context.Context, id string, from, to Status) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET status = $3, updated_at = NOW()
    WHERE id = $1 AND status = $2
  `, id, string(from), string(to))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	return r.GetByID(ctx, id)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
