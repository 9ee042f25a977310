package catalog

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/food-dispatch/internal/models"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB shares an existing connection pool with the order store.
func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Dish(ctx context.Context, id string) (*models.Dish, error) {
	var d models.Dish
	err := p.db.QueryRowContext(ctx,
		`SELECT id, restaurant_id, name, price, available FROM dishes WHERE id=$1`, id).
		Scan(&d.ID, &d.RestaurantID, &d.Name, &d.Price, &d.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *Postgres) Restaurant(ctx context.Context, id string) (*models.Restaurant, error) {
	var r models.Restaurant
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, lat, lon, delivery_fee, min_order, open FROM restaurants WHERE id=$1`, id).
		Scan(&r.ID, &r.Name, &r.Loc.Lat, &r.Loc.Lon, &r.DeliveryFee, &r.MinOrder, &r.Open)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
