package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore reads dashboard figures and the activity feed from Postgres.
type PGStore struct {
	db Querier
	// activeWindow is how far back activity counts towards ActiveUsers.
	activeWindow time.Duration
}

func NewPGStore(db Querier) *PGStore {
	return &PGStore{db: db, activeWindow: 15 * time.Minute}
}

const statsQuery = `
SELECT
    (SELECT COUNT(*) FROM patients),
    (SELECT COUNT(*) FROM appointments
        WHERE scheduled_at >= date_trunc('day', NOW())
          AND scheduled_at <  date_trunc('day', NOW()) + INTERVAL '1 day'),
    (SELECT COUNT(*) FROM invoices WHERE status = 'pending'),
    (SELECT COALESCE(SUM(amount), 0)::float8 FROM invoices WHERE status = 'paid'),
    (SELECT COUNT(DISTINCT user_id) FROM activity
        WHERE user_id IS NOT NULL AND occurred_at >= NOW() - $1::interval),
    NOW()`

func (s *PGStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, statsQuery, s.activeWindow).Scan(
		&st.TotalPatients,
		&st.TodayAppointments,
		&st.PendingInvoices,
		&st.Revenue,
		&st.ActiveUsers,
		&st.UpdatedAt,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("query dashboard stats: %w", err)
	}
	return st, nil
}

func (s *PGStore) Record(ctx context.Context, a Activity) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO activity (id, kind, message, user_id, occurred_at) VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		a.ID, a.Kind, a.Message, a.UserID, time.UnixMilli(a.Timestamp).UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, offset, limit int) ([]Activity, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM activity`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id::text, kind, message, COALESCE(user_id, ''), occurred_at
		   FROM activity ORDER BY occurred_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query activity: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Activity, error) {
		var a Activity
		var at time.Time
		if err := row.Scan(&a.ID, &a.Kind, &a.Message, &a.UserID, &at); err != nil {
			return a, err
		}
		a.Timestamp = at.UnixMilli()
		return a, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan activity: %w", err)
	}
	return items, total, nil
}
