package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/access/internal/events"
)

// RollupHandler aggregates authorized check-ins into per-academy daily counters.
type RollupHandler struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// RollupOption configures optional behaviour for the RollupHandler.
type RollupOption func(*RollupHandler)

// WithRollupLogger overrides the logger used to report errors.
func WithRollupLogger(logger *log.Logger) RollupOption {
	return func(h *RollupHandler) {
		h.logger = logger
	}
}

// NewRollupHandler constructs a RollupHandler backed by the given pool.
func NewRollupHandler(pool *pgxpool.Pool, opts ...RollupOption) *RollupHandler {
	h := &RollupHandler{
		pool:   pool,
		logger: log.New(log.Writer(), "[rollup] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle consumes checkin.recorded events and increments the daily rollup row.
func (h *RollupHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != "checkin.recorded" {
		// Other event types on shared topics are not ours to aggregate.
		return nil
	}

	var payload events.CheckinRecorded
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode checkin payload: %w", err)
	}
	if payload.AcademyID == "" || payload.EntryDate == "" {
		return fmt.Errorf("checkin payload missing academy_id or entry_date")
	}
	if _, err := time.Parse("2006-01-02", payload.EntryDate); err != nil {
		return fmt.Errorf("invalid entry_date %q: %w", payload.EntryDate, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := h.pool.Exec(ctx, `
		INSERT INTO attendance_daily_rollup (academia_id, dia, entradas, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (academia_id, dia)
		DO UPDATE SET entradas = attendance_daily_rollup.entradas + 1, updated_at = NOW()
	`, payload.AcademyID, payload.EntryDate)
	if err != nil {
		return fmt.Errorf("upsert rollup (academy=%s, day=%s): %w", payload.AcademyID, payload.EntryDate, err)
	}
	return nil
}
