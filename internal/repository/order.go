package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
)

// OrderRepository persists order aggregates in Postgres. Delivery methods are
// stored as a JSON document on the order row; lines get their own table.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// SaveOrder upserts the order and replaces its lines in one transaction.
func (r *OrderRepository) SaveOrder(o *models.Order) error {
	methods, err := json.Marshal(o.DeliveryMethods)
	if err != nil {
		return fmt.Errorf("marshal delivery methods: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO orders (
			id, customer_id, business_unit, channel, status, sla_target_minutes,
			placed_at, completed_at, cancelled_at, updated_at, delivery_methods
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status, completed_at=EXCLUDED.completed_at,
			cancelled_at=EXCLUDED.cancelled_at, updated_at=EXCLUDED.updated_at,
			delivery_methods=EXCLUDED.delivery_methods`

	_, err = tx.Exec(query,
		o.ID, o.CustomerID, o.BusinessUnit, o.Channel, o.Status.String(),
		int64(o.SlaTarget/time.Minute), o.PlacedAt, nullTime(o.CompletedAt),
		nullTime(o.CancelledAt), o.UpdatedAt, methods,
	)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM order_lines WHERE order_id=$1`, o.ID); err != nil {
		return fmt.Errorf("clear order lines: %w", err)
	}
	lineQuery := `INSERT INTO order_lines (
			id, order_id, product_id, product_name, ordered_qty, fulfilled_qty,
			unit_price, promotion_discount, uom, status, shipping_method,
			parent_line_id, split_index
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	for _, l := range o.Lines {
		_, err := tx.Exec(lineQuery,
			l.ID, l.OrderID, l.ProductID, l.ProductName, l.OrderedQty, l.FulfilledQty,
			l.UnitPrice, l.PromotionDiscount, l.UOM, l.Status.String(), l.ShippingMethod,
			l.ParentLineID, l.SplitIndex,
		)
		if err != nil {
			return fmt.Errorf("save order line %s: %w", l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID returns the order with its lines, or (nil, nil) when absent.
func (r *OrderRepository) GetByID(id string) (*models.Order, error) {
	query := `SELECT
			id, customer_id, business_unit, channel, status, sla_target_minutes,
			placed_at, completed_at, cancelled_at, updated_at, delivery_methods
		FROM orders WHERE id=$1`

	o, err := scanOrder(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	lines, err := r.loadLines(o.ID)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return o, nil
}

// List pages orders by id cursor, the way migrations replay them on startup.
func (r *OrderRepository) List(cursor string, limit int64) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT
			id, customer_id, business_unit, channel, status, sla_target_minutes,
			placed_at, completed_at, cancelled_at, updated_at, delivery_methods
		FROM orders WHERE id > $1 ORDER BY id ASC LIMIT $2`

	rows, err := r.db.Query(query, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var res []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range res {
		lines, err := r.loadLines(o.ID)
		if err != nil {
			return nil, err
		}
		o.Lines = lines
	}
	return res, nil
}

func (r *OrderRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("order %s: %w", id, models.ErrOrderNotFound)
	}
	return nil
}

// ListAuditEvents returns every persisted audit event in ledger order, for
// replaying into the in-memory ledger on startup.
func (r *OrderRepository) ListAuditEvents() ([]models.AuditEvent, error) {
	query := `SELECT
			id, order_id, entity_name, entity_id, changed_parameter,
			old_value, new_value, updated_by, timestamp, seq
		FROM audit_events ORDER BY timestamp ASC, seq ASC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		err := rows.Scan(&e.ID, &e.OrderID, &e.EntityName, &e.EntityID, &e.ChangedParameter,
			&e.OldValue, &e.NewValue, &e.UpdatedBy, &e.Timestamp, &e.Seq)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *OrderRepository) loadLines(orderID string) ([]*models.OrderLine, error) {
	query := `SELECT
			id, order_id, product_id, product_name, ordered_qty, fulfilled_qty,
			unit_price, promotion_discount, uom, status, shipping_method,
			parent_line_id, split_index
		FROM order_lines WHERE order_id=$1 ORDER BY id ASC`

	rows, err := r.db.Query(query, orderID)
	if err != nil {
		return nil, fmt.Errorf("load lines: %w", err)
	}
	defer rows.Close()

	var lines []*models.OrderLine
	for rows.Next() {
		l := &models.OrderLine{}
		var status string
		err := rows.Scan(
			&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.OrderedQty, &l.FulfilledQty,
			&l.UnitPrice, &l.PromotionDiscount, &l.UOM, &status, &l.ShippingMethod,
			&l.ParentLineID, &l.SplitIndex,
		)
		if err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		if l.Status, err = models.ParseStatus(status); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	var status string
	var slaMinutes int64
	var completed, cancelled sql.NullTime
	var methods []byte

	err := row.Scan(
		&o.ID, &o.CustomerID, &o.BusinessUnit, &o.Channel, &status, &slaMinutes,
		&o.PlacedAt, &completed, &cancelled, &o.UpdatedAt, &methods,
	)
	if err != nil {
		return nil, err
	}
	if o.Status, err = models.ParseStatus(status); err != nil {
		return nil, err
	}
	o.SlaTarget = time.Duration(slaMinutes) * time.Minute
	if completed.Valid {
		o.CompletedAt = completed.Time
	}
	if cancelled.Valid {
		o.CancelledAt = cancelled.Time
	}
	if len(methods) > 0 {
		if err := json.Unmarshal(methods, &o.DeliveryMethods); err != nil {
			return nil, fmt.Errorf("unmarshal delivery methods: %w", err)
		}
	}
	return o, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
