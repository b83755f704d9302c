package promo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("promo not found")
)

type Repository interface {
	Create(ctx context.Context, p *Promo) error
	GetByID(ctx context.Context, id string) (*Promo, error)
	GetByCode(ctx context.Context, code string) (*Promo, error)
	List(ctx context.Context, limit, offset int) ([]Promo, error)
	// Update is partial: empty strings and nil times keep current values;
	// active changes only when updateActive is set. The code is immutable.
	Update(ctx context.Context, p *Promo, updateActive bool) error
	Delete(ctx context.Context, id string) (bool, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Create(ctx context.Context, p *Promo) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `
		INSERT INTO promos (id, code, type, value, min_order_value, max_discount, active, starts_at, ends_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
	`, p.ID, strings.ToUpper(p.Code), p.Type, p.Value, p.MinOrderValue, p.MaxDiscount, p.Active, p.StartsAt, p.EndsAt)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Promo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p Promo
	err := r.db.QueryRow(ctx, `
		SELECT id, code, type, value::text, min_order_value::text, max_discount::text, active, starts_at, ends_at, created_at, updated_at
		FROM promos WHERE id = $1
	`, id).Scan(&p.ID, &p.Code, &p.Type, &p.Value, &p.MinOrderValue, &p.MaxDiscount, &p.Active, &p.StartsAt, &p.EndsAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, ErrNotFound
	}
	return &p, nil
}

// GetByCode looks up by the uppercase canonical form of the code.
func (r *PGRepo) GetByCode(ctx context.Context, code string) (*Promo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p Promo
	err := r.db.QueryRow(ctx, `
		SELECT id, code, type, value::text, min_order_value::text, max_discount::text, active, starts_at, ends_at, created_at, updated_at
		FROM promos WHERE code = upper($1)
	`, code).Scan(&p.ID, &p.Code, &p.Type, &p.Value, &p.MinOrderValue, &p.MaxDiscount, &p.Active, &p.StartsAt, &p.EndsAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Promo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, code, type, value::text, min_order_value::text, max_discount::text, active, starts_at, ends_at, created_at, updated_at
		FROM promos ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Promo
	for rows.Next() {
		var p Promo
		if err := rows.Scan(&p.ID, &p.Code, &p.Type, &p.Value, &p.MinOrderValue, &p.MaxDiscount, &p.Active, &p.StartsAt, &p.EndsAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PGRepo) Update(ctx context.Context, p *Promo, updateActive bool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `
		UPDATE promos
		SET type = COALESCE(NULLIF($2,''), type),
		    value = COALESCE(NULLIF($3,'')::numeric, value),
		    min_order_value = COALESCE(NULLIF($4,'')::numeric, min_order_value),
		    max_discount = COALESCE(NULLIF($5,'')::numeric, max_discount),
		    active = CASE WHEN $6 THEN $7 ELSE active END,
		    starts_at = COALESCE($8, starts_at),
		    ends_at = COALESCE($9, ends_at),
		    updated_at = NOW()
		WHERE id = $1
	`, p.ID, p.Type, p.Value, p.MinOrderValue, p.MaxDiscount, updateActive, p.Active, p.StartsAt, p.EndsAt)
	return err
}

func (r *PGRepo) Delete(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd, err := r.db.Exec(ctx, `DELETE FROM promos WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}
