package consult

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore implements Store against a sessions table.
//
// NOTE: This store assumes the following table exists:
//
//	sessions (
//	  id, patient_id, physician_id, status, scheduled_for,
//	  started_at, ended_at, duration_minutes,
//	  consultation_rate_minor, currency, payment_status,
//	  created_at, updated_at
//	)
//
// Every transition is a single conditional UPDATE keyed on the expected
// current value, so that exactly one of N concurrent attempts succeeds.
// There is no SELECT FOR UPDATE here on purpose: the WHERE clause is the
// whole concurrency-control story.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `
id, patient_id, physician_id, status, scheduled_for,
started_at, ended_at, duration_minutes,
consultation_rate_minor, currency, payment_status,
created_at, updated_at
`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	err := row.Scan(
		&s.ID,
		&s.PatientID,
		&s.PhysicianID,
		&s.Status,
		&s.ScheduledFor,
		&s.StartedAt,
		&s.EndedAt,
		&s.DurationMinutes,
		&s.ConsultationRateMinor,
		&s.Currency,
		&s.PaymentStatus,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

func (p *PostgresStore) Create(ctx context.Context, s Session) error {
	const q = `
INSERT INTO sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`
	_, err := p.db.ExecContext(ctx, q,
		s.ID,
		s.PatientID,
		s.PhysicianID,
		s.Status,
		s.ScheduledFor,
		s.StartedAt,
		s.EndedAt,
		s.DurationMinutes,
		s.ConsultationRateMinor,
		s.Currency,
		s.PaymentStatus,
		s.CreatedAt,
		s.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func (p *PostgresStore) ListFor(ctx context.Context, userID string) ([]Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM sessions
WHERE patient_id = $1 OR physician_id = $1
ORDER BY scheduled_for DESC
`
	rows, err := p.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status) ([]Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM sessions
WHERE status = $1
ORDER BY scheduled_for ASC
`
	rows, err := p.db.QueryContext(ctx, q, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CompareAndSwapStatus performs the conditional status write. When the UPDATE
// matches no row the current row is re-read so callers always observe the
// state that beat them.
func (p *PostgresStore) CompareAndSwapStatus(ctx context.Context, id string, expect Status, change StatusChange) (Session, bool, error) {
	const q = `
UPDATE sessions
SET status = $3,
    started_at = COALESCE($4, started_at),
    ended_at = COALESCE($5, ended_at),
    duration_minutes = COALESCE($6, duration_minutes),
    updated_at = $7
WHERE id = $1 AND status = $2
RETURNING ` + sessionColumns

	s, err := scanSession(p.db.QueryRowContext(ctx, q,
		id, expect, change.To, change.StartedAt, change.EndedAt, change.DurationMinutes, change.At,
	))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, err
	}

	// Lost the race (or wrong expected status): return what is there now.
	cur, err := p.Get(ctx, id)
	if err != nil {
		return Session{}, false, err
	}
	return cur, false, nil
}

func (p *PostgresStore) CompareAndSwapPayment(ctx context.Context, id string, expect, next PaymentStatus) (Session, bool, error) {
	const q = `
UPDATE sessions
SET payment_status = $3, updated_at = NOW()
WHERE id = $1 AND payment_status = $2
RETURNING ` + sessionColumns

	s, err := scanSession(p.db.QueryRowContext(ctx, q, id, expect, next))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, err
	}

	cur, err := p.Get(ctx, id)
	if err != nil {
		return Session{}, false, err
	}
	return cur, false, nil
}
