package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/food-dispatch/internal/models"
)

// PostgresStore implements Store on database/sql + lib/pq. The two races the
// service cares about are settled here: ApplyTransition is guarded by the
// version column, AcceptRequest by a conditional UPDATE on the request row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders(id, customer_id, restaurant_id, subtotal, delivery_fee, total, status,
			delivery_address, delivery_lat, delivery_lon, notes, payment_ref, version, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		o.ID, o.CustomerID, o.RestaurantID, o.Subtotal, o.DeliveryFee, o.Total, o.Status,
		o.Address, nullLat(o.Dest), nullLon(o.Dest), o.Notes, o.PaymentRef, o.Version, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	for _, it := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items(order_id, dish_id, quantity, price, notes)
			VALUES($1,$2,$3,$4,$5)`,
			o.ID, it.DishID, it.Quantity, it.Price, it.Notes)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const orderColumns = `id, customer_id, restaurant_id, COALESCE(courier_id,''), subtotal, delivery_fee, total,
	status, delivery_address, delivery_lat, delivery_lon, notes, payment_ref, version, created_at, updated_at, accepted_at, delivered_at`

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	items, err := p.orderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (p *PostgresStore) orderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT dish_id, quantity, price, notes FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.DishID, &it.Quantity, &it.Price, &it.Notes); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (p *PostgresStore) ListOrders(ctx context.Context, role models.ActorRole, actorID string, status models.OrderStatus) ([]models.Order, error) {
	var col string
	switch role {
	case models.RoleCustomer:
		col = "customer_id"
	case models.RoleRestaurant:
		col = "restaurant_id"
	case models.RoleCourier:
		col = "courier_id"
	default:
		return nil, models.Validationf("unknown role %q", role)
	}
	q := `SELECT ` + orderColumns + ` FROM orders WHERE ` + col + `=$1`
	args := []any{actorID}
	if status != "" {
		q += ` AND status=$2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ApplyTransition(ctx context.Context, orderID string, expectVersion int64, to models.OrderStatus) (*models.Order, error) {
	now := time.Now().UTC()
	row := p.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status=$2, version=version+1, updated_at=$3,
			accepted_at = COALESCE(accepted_at, CASE WHEN $2='accepted' THEN $3 END),
			delivered_at = COALESCE(delivered_at, CASE WHEN $2='delivered' THEN $3 END)
		WHERE id=$1 AND version=$4
		RETURNING `+orderColumns, orderID, string(to), now, expectVersion)
	o, err := scanOrder(row)
	if errors.Is(err, models.ErrNotFound) {
		// no row matched: either the order is unknown or the version moved
		var exists bool
		if err2 := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); err2 != nil {
			return nil, err2
		}
		if exists {
			return nil, models.ErrConflict
		}
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	items, err := p.orderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (p *PostgresStore) AssignCourier(ctx context.Context, orderID, courierID string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, assignCourierSQL+` RETURNING `+orderColumns,
		orderID, courierID, time.Now().UTC())
	return scanOrder(row)
}

const assignCourierSQL = `
	UPDATE orders
	SET courier_id=$2,
		status = CASE WHEN status='accepted' THEN 'collecting' ELSE status END,
		version = version+1, updated_at=$3
	WHERE id=$1`

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.DeliveryRequest) error {
	// flip any stale pending request out of the way first so the partial
	// unique index only blocks genuinely live duplicates
	_, err := p.db.ExecContext(ctx, `
		UPDATE delivery_requests SET status='expired'
		WHERE order_id=$1 AND status='pending' AND expires_at <= $2`,
		r.OrderID, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO delivery_requests(id, order_id, status, created_at, expires_at)
		VALUES($1,$2,$3,$4,$5)`,
		r.ID, r.OrderID, r.Status, r.CreatedAt, r.ExpiresAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return models.ErrConflict
	}
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.DeliveryRequest, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, order_id, status, COALESCE(courier_id,''), created_at, expires_at
		FROM delivery_requests WHERE id=$1`, id)
	r, err := scanRequest(row)
	if err != nil {
		return nil, err
	}
	if r.Status == models.RequestPending && r.Expired(time.Now().UTC()) {
		r.Status = models.RequestExpired
	}
	return r, nil
}

func (p *PostgresStore) ListOpenRequests(ctx context.Context, now time.Time) ([]models.DeliveryRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_id, status, COALESCE(courier_id,''), created_at, expires_at
		FROM delivery_requests
		WHERE status='pending' AND expires_at > $1
		ORDER BY created_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DeliveryRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// AcceptRequest settles the accept race with one conditional UPDATE: only a
// still-pending, unexpired row can be claimed, so concurrent couriers cannot
// both win. The parent order is assigned in the same transaction.
func (p *PostgresStore) AcceptRequest(ctx context.Context, requestID, courierID string, now time.Time) (*models.DeliveryRequest, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE delivery_requests
		SET status='accepted', courier_id=$2
		WHERE id=$1 AND status='pending' AND expires_at > $3
		RETURNING id, order_id, status, COALESCE(courier_id,''), created_at, expires_at`,
		requestID, courierID, now)
	r, err := scanRequest(row)
	if errors.Is(err, models.ErrNotFound) {
		return nil, p.classifyAcceptFailure(ctx, requestID, now)
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, assignCourierSQL, r.OrderID, courierID, now); err != nil {
		return nil, fmt.Errorf("assign courier: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

// classifyAcceptFailure turns a lost conditional update into the specific
// error the courier app needs to show.
func (p *PostgresStore) classifyAcceptFailure(ctx context.Context, requestID string, now time.Time) error {
	var status string
	var expiresAt time.Time
	err := p.db.QueryRowContext(ctx,
		`SELECT status, expires_at FROM delivery_requests WHERE id=$1`, requestID).
		Scan(&status, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	switch {
	case models.RequestStatus(status) == models.RequestAccepted:
		return models.ErrAlreadyAccepted
	case models.RequestStatus(status) == models.RequestExpired || now.After(expiresAt):
		return models.ErrExpired
	default:
		return models.ErrConflict
	}
}

func (p *PostgresStore) DeclineRequest(ctx context.Context, requestID, courierID string) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO delivery_request_declines(request_id, courier_id, created_at)
		SELECT $1, $2, $3 WHERE EXISTS(SELECT 1 FROM delivery_requests WHERE id=$1)
		ON CONFLICT (request_id, courier_id) DO NOTHING`,
		requestID, courierID, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// either the request is unknown or this courier already declined;
		// only the former is an error
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM delivery_requests WHERE id=$1)`, requestID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return models.ErrNotFound
		}
	}
	return nil
}

func (p *PostgresStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE delivery_requests SET status='expired'
		WHERE status='pending' AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var lat, lon sql.NullFloat64
	var acceptedAt, deliveredAt sql.NullTime
	err := row.Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &o.CourierID,
		&o.Subtotal, &o.DeliveryFee, &o.Total, &o.Status, &o.Address,
		&lat, &lon, &o.Notes, &o.PaymentRef, &o.Version, &o.CreatedAt, &o.UpdatedAt,
		&acceptedAt, &deliveredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		o.Dest = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		o.AcceptedAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		o.DeliveredAt = &t
	}
	return &o, nil
}

func scanRequest(row rowScanner) (*models.DeliveryRequest, error) {
	var r models.DeliveryRequest
	err := row.Scan(&r.ID, &r.OrderID, &r.Status, &r.CourierID, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func nullLat(c *models.Coord) sql.NullFloat64 {
	if c == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}
}

func nullLon(c *models.Coord) sql.NullFloat64 {
	if c == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lon, Valid: true}
}
