package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/imagify/internal/models"
)

// PaymentRepository is the local order journal used by orphan recovery.
type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Record(ctx context.Context, entry *models.JournalEntry) error {
	const query = `
INSERT INTO payment_orders (order_id, plan_id, amount, currency, status)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE plan_id = VALUES(plan_id), amount = VALUES(amount), currency = VALUES(currency), updated_at = NOW()`
	status := entry.Status
	if status == "" {
		status = models.JournalCreated
	}
	res, err := r.db.ExecContext(ctx, query, entry.OrderID, entry.PlanID, entry.Amount, entry.Currency, status)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	entry.ID = id
	entry.Status = status
	return nil
}

// MarkPaid stores the checkout result. Orders unknown locally are created.
func (r *PaymentRepository) MarkPaid(ctx context.Context, c models.PaymentConfirmation) error {
	const query = `
INSERT INTO payment_orders (order_id, payment_id, signature, status)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE payment_id = VALUES(payment_id), signature = VALUES(signature), status = VALUES(status), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, c.OrderID, c.PaymentID, c.Signature, models.JournalPaid); err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	return nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, orderID string, status models.JournalStatus) error {
	const query = `UPDATE payment_orders SET status = ?, updated_at = NOW() WHERE order_id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, orderID); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

func (r *PaymentRepository) ListByStatus(ctx context.Context, status models.JournalStatus) ([]models.JournalEntry, error) {
	const query = `
SELECT id, order_id, plan_id, amount, currency, COALESCE(payment_id, ''), COALESCE(signature, ''), status, created_at, COALESCE(updated_at, created_at) as updated_at
FROM payment_orders WHERE status = ? ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.PlanID, &e.Amount, &e.Currency, &e.PaymentID, &e.Signature, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return entries, nil
}
