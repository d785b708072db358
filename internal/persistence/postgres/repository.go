// Package postgres provides pgx-backed persistence for the access service.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/access/internal/auth"
	"example.com/access/internal/domain"
	"example.com/access/internal/events"
	"example.com/access/internal/observability"
)

const uniqueViolation = "23505"

// Repository provides Postgres-backed persistence for sessions, attendance,
// orders and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindAthlete returns the athlete or nil when absent.
func (r *Repository) FindAthlete(ctx context.Context, athleteID string) (*domain.Athlete, error) {
	const query = `SELECT atleta_id, academia_id, nome_completo, plan_status FROM atletas WHERE atleta_id=$1`

	row := r.pool.QueryRow(ctx, query, athleteID)
	var athlete domain.Athlete
	if err := row.Scan(&athlete.ID, &athlete.AcademyID, &athlete.Name, &athlete.PlanStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &athlete, nil
}

// FindAcademy returns the academy or nil when absent.
func (r *Repository) FindAcademy(ctx context.Context, academyID string) (*domain.Academy, error) {
	const query = `SELECT academia_id, nome, sigla, slug, plan_status FROM academias WHERE academia_id=$1`
	return r.scanAcademy(r.pool.QueryRow(ctx, query, academyID))
}

// FindAcademyBySlug resolves the tenant behind a subdomain.
func (r *Repository) FindAcademyBySlug(ctx context.Context, slug string) (*domain.Academy, error) {
	const query = `SELECT academia_id, nome, sigla, slug, plan_status FROM academias WHERE slug=$1`
	return r.scanAcademy(r.pool.QueryRow(ctx, query, slug))
}

func (r *Repository) scanAcademy(row pgx.Row) (*domain.Academy, error) {
	var academy domain.Academy
	if err := row.Scan(&academy.ID, &academy.Name, &academy.Abbrev, &academy.Slug, &academy.PlanStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &academy, nil
}

// CreateSession persists the QR session and records the issuance event in a
// single transaction.
func (r *Repository) CreateSession(ctx context.Context, session domain.QRSession) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.academia_id', $1, true)", session.AcademyID); err != nil {
		return err
	}

	const insertSession = `INSERT INTO sessoes_qr (sessao_id, atleta_id, academia_id, qr_token, data_criacao, data_expiracao, usado, ip_criacao, user_agent)
        VALUES ($1,$2,$3,$4,$5,$6,FALSE,$7,$8)`

	_, err = tx.Exec(ctx, insertSession,
		session.ID,
		session.AthleteID,
		session.AcademyID,
		session.Token,
		session.CreatedAt,
		session.ExpiresAt,
		nullIfEmpty(session.OriginIP),
		nullIfEmpty(session.UserAgent),
	)
	if err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, session.AcademyID, "qr_session", session.ID, "qr_session.issued", events.QRSessionIssued{
		SessionID: session.ID,
		AthleteID: session.AthleteID,
		AcademyID: session.AcademyID,
		IssuedAt:  session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordSessionIssued()
	return nil
}

// FindSessionByToken resolves a token to its session joined with the owning
// athlete. Both results are nil when the token is unknown.
func (r *Repository) FindSessionByToken(ctx context.Context, token string) (*domain.QRSession, *domain.Athlete, error) {
	const query = `SELECT s.sessao_id, s.atleta_id, s.academia_id, s.qr_token, s.data_criacao, s.data_expiracao,
            s.usado, s.data_uso, s.academia_uso, COALESCE(s.ip_criacao,''), COALESCE(s.user_agent,''),
            a.atleta_id, a.academia_id, a.nome_completo, a.plan_status
        FROM sessoes_qr s
        JOIN atletas a ON a.atleta_id = s.atleta_id
        WHERE s.qr_token=$1`

	row := r.pool.QueryRow(ctx, query, token)
	var session domain.QRSession
	var athlete domain.Athlete
	err := row.Scan(
		&session.ID, &session.AthleteID, &session.AcademyID, &session.Token, &session.CreatedAt, &session.ExpiresAt,
		&session.Used, &session.UsedAt, &session.UsedAcademyID, &session.OriginIP, &session.UserAgent,
		&athlete.ID, &athlete.AcademyID, &athlete.Name, &athlete.PlanStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return &session, &athlete, nil
}

// HasEntryOn reports whether any attendance row exists for the athlete at
// the academy on the given calendar day.
func (r *Repository) HasEntryOn(ctx context.Context, athleteID, academyID, date string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM frequencia WHERE atleta_id=$1 AND academia_id=$2 AND data_entrada=$3::date)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, athleteID, academyID, date).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// CommitRedemption inserts the attendance row and consumes the session in one
// transaction. The conditional update on usado=FALSE is the optimistic lock
// that keeps a token from producing two entries under concurrent redemption.
func (r *Repository) CommitRedemption(ctx context.Context, record domain.AttendanceRecord, sessionID string, usedAt time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.academia_id', $1, true)", record.AcademyID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sessoes_qr SET usado=TRUE, data_uso=$1, academia_uso=$2 WHERE sessao_id=$3 AND usado=FALSE`,
		usedAt, record.AcademyID, sessionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = domain.ErrSessionUsed
		return err
	}

	if err = insertAttendanceTx(ctx, tx, record); err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, record.AcademyID, "attendance", record.ID, "checkin.recorded", checkinEvent(record)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordCheckinAuthorized(usedAt)
	return nil
}

// InsertAttendance records a staff-entered attendance row.
func (r *Repository) InsertAttendance(ctx context.Context, record domain.AttendanceRecord) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.academia_id', $1, true)", record.AcademyID); err != nil {
		return err
	}

	if err = insertAttendanceTx(ctx, tx, record); err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, record.AcademyID, "attendance", record.ID, "checkin.recorded", checkinEvent(record)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertAttendanceTx(ctx context.Context, tx pgx.Tx, record domain.AttendanceRecord) error {
	const stmt = `INSERT INTO frequencia (frequencia_id, academia_id, atleta_id, data_entrada, hora_entrada, hora_saida, metodo_validacao, dispositivo, ip_origem, status, created_at)
        VALUES ($1,$2,$3,$4::date,$5::time,$6::time,$7,$8,$9,$10,$11)`

	_, err := tx.Exec(ctx, stmt,
		record.ID,
		record.AcademyID,
		record.AthleteID,
		record.EntryDate,
		record.EntryTime,
		record.ExitTime,
		record.Method,
		nullIfEmpty(record.Device),
		nullIfEmpty(record.OriginIP),
		record.Status,
		record.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateEntry
		}
		return err
	}
	return nil
}

// CountAuthorizedVisits counts authorized entries in the inclusive date range.
func (r *Repository) CountAuthorizedVisits(ctx context.Context, athleteID, academyID, fromDate, toDate string) (int, error) {
	const query = `SELECT COUNT(*) FROM frequencia
        WHERE atleta_id=$1 AND academia_id=$2 AND data_entrada BETWEEN $3::date AND $4::date AND status=$5`

	var count int
	err := r.pool.QueryRow(ctx, query, athleteID, academyID, fromDate, toDate, domain.StatusAuthorized).Scan(&count)
	return count, err
}

// ListAttendanceSince returns the athlete's attendance rows from sinceDate
// on, newest first, annotated with the academy display name.
func (r *Repository) ListAttendanceSince(ctx context.Context, athleteID, academyID, sinceDate string) ([]domain.AttendanceEntry, error) {
	args := []interface{}{athleteID, sinceDate}
	query := `SELECT f.frequencia_id, f.academia_id, f.atleta_id, f.data_entrada::text, f.hora_entrada::text, f.hora_saida::text,
            f.metodo_validacao, COALESCE(f.dispositivo,''), COALESCE(f.ip_origem,''), f.status, f.created_at, a.nome
        FROM frequencia f
        JOIN academias a ON a.academia_id = f.academia_id
        WHERE f.atleta_id=$1 AND f.data_entrada >= $2::date`

	if academyID != "" {
		query += ` AND f.academia_id=$3`
		args = append(args, academyID)
	}
	query += ` ORDER BY f.data_entrada DESC, f.hora_entrada DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AttendanceEntry, 0)
	for rows.Next() {
		var entry domain.AttendanceEntry
		if err := rows.Scan(
			&entry.ID, &entry.AcademyID, &entry.AthleteID, &entry.EntryDate, &entry.EntryTime, &entry.ExitTime,
			&entry.Method, &entry.Device, &entry.OriginIP, &entry.Status, &entry.CreatedAt, &entry.AcademyName,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// FindRole returns the caller's role at the academy; RoleUnknown when none.
func (r *Repository) FindRole(ctx context.Context, userID, academyID string) (auth.Role, error) {
	const query = `SELECT role FROM user_roles WHERE user_id=$1 AND academia_id=$2`

	var raw string
	if err := r.pool.QueryRow(ctx, query, userID, academyID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.RoleUnknown, nil
		}
		return auth.RoleUnknown, err
	}
	return auth.ParseRole(raw), nil
}

func checkinEvent(record domain.AttendanceRecord) events.CheckinRecorded {
	return events.CheckinRecorded{
		AttendanceID: record.ID,
		AcademyID:    record.AcademyID,
		AthleteID:    record.AthleteID,
		EntryDate:    record.EntryDate,
		EntryTime:    record.EntryTime,
		Method:       string(record.Method),
		Device:       record.Device,
		RecordedAt:   record.CreatedAt,
	}
}

func insertOutbox(ctx context.Context, tx pgx.Tx, academyID, aggregateType, aggregateID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, eventType)

	const stmt = `INSERT INTO outbox (academia_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		academyID,
		aggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		academyID,
		body,
		dedupeKey,
	)
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"qr_session.issued": {
		Topic:         "qr_session_events",
		SchemaSubject: "qr_session_events-value",
	},
	"checkin.recorded": {
		Topic:         "checkin_events",
		SchemaSubject: "checkin_events-value",
	},
}

var _ domain.AccessRepository = (*Repository)(nil)
