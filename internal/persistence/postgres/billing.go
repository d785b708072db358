package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"example.com/access/internal/billing"
	"example.com/access/internal/domain"
)

// FindOrderByReference returns the order behind a gateway reference, or nil.
func (r *Repository) FindOrderByReference(ctx context.Context, reference string) (*billing.Order, error) {
	const query = `SELECT pedido_id, academia_id, atleta_id, valor_centavos, gateway_reference, status
        FROM pedidos WHERE gateway_reference=$1`

	row := r.pool.QueryRow(ctx, query, reference)
	var order billing.Order
	if err := row.Scan(&order.ID, &order.AcademyID, &order.AthleteID, &order.AmountCents, &order.Reference, &order.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus reconciles the order with the gateway outcome.
func (r *Repository) UpdateOrderStatus(ctx context.Context, orderID, status, gatewayTxID string, paidAt *time.Time) error {
	const stmt = `UPDATE pedidos SET status=$2, gateway_tx_id=COALESCE(NULLIF($3,''), gateway_tx_id), data_pagamento=$4, updated_at=NOW()
        WHERE pedido_id=$1`

	_, err := r.pool.Exec(ctx, stmt, orderID, status, gatewayTxID, paidAt)
	return err
}

// ActivateAthletePlan marks the athlete's plan active until the given time.
func (r *Repository) ActivateAthletePlan(ctx context.Context, athleteID string, until time.Time) error {
	const stmt = `UPDATE atletas SET plan_status=$2, plan_expire=$3 WHERE atleta_id=$1`

	_, err := r.pool.Exec(ctx, stmt, athleteID, domain.PlanActive, until)
	return err
}

// LogWebhook appends a delivery to the webhook audit log.
func (r *Repository) LogWebhook(ctx context.Context, provider, eventType string, payload []byte, outcome string) error {
	const stmt = `INSERT INTO webhooks_log (webhook_id, provider, event_type, payload, outcome)
        VALUES ($1,$2,$3,$4,$5)`

	_, err := r.pool.Exec(ctx, stmt, uuid.NewString(), provider, eventType, payload, outcome)
	return err
}

var _ billing.Store = (*Repository)(nil)
