package penalty

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"warden/internal/abuse/models"
)

const penaltyColumns = `id, token_id, token_name, user_id, penalty_type, reason, abuse_score, rate_limit_rpm, created_at, expires_at, lifted_at, lifted_by`

// activeClause matches rows in force at $N; callers bind now.
const activeClause = `active AND lifted_at IS NULL AND (expires_at IS NULL OR expires_at > %s)`

// PostgresStore persists penalties in the token_penalties table. A partial
// unique index on (token_id) WHERE active guarantees one active row per
// token across instances.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed penalty store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetActive(ctx context.Context, tokenID string, now time.Time) (*models.Penalty, error) {
	query := `SELECT ` + penaltyColumns + `
		FROM token_penalties
		WHERE token_id = $1 AND ` + fmt.Sprintf(activeClause, "$2") + `
		ORDER BY created_at DESC
		LIMIT 1`
	p, err := scanPenalty(s.db.QueryRowContext(ctx, query, tokenID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active penalty: %w", err)
	}
	return p, nil
}

// Create retires the token's stale active row, if any, and inserts p.
func (s *PostgresStore) Create(ctx context.Context, p *models.Penalty) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create penalty: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
		UPDATE token_penalties SET active = FALSE
		WHERE token_id = $1 AND active
			AND (lifted_at IS NOT NULL OR (expires_at IS NOT NULL AND expires_at <= $2))`,
		p.TokenID, p.StartTime,
	); err != nil {
		return fmt.Errorf("retire stale penalty: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO token_penalties (`+penaltyColumns+`, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE)
		ON CONFLICT (token_id) WHERE active DO NOTHING`,
		p.ID, p.TokenID, p.TokenName, p.UserID, string(p.PenaltyType), p.Reason,
		p.AbuseScore, p.RateLimitRPM, p.StartTime, p.EndTime, p.LiftedAt, p.LiftedBy,
	)
	if err != nil {
		return fmt.Errorf("insert penalty: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert penalty rows affected: %w", err)
	}
	if n == 0 {
		return ErrActiveExists
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create penalty: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lift(ctx context.Context, tokenID string, at time.Time, liftedBy string) (*models.Penalty, error) {
	query := `
		UPDATE token_penalties
		SET expires_at = $2, lifted_at = $2, lifted_by = $3, active = FALSE
		WHERE token_id = $1 AND ` + fmt.Sprintf(activeClause, "$2") + `
		RETURNING ` + penaltyColumns
	p, err := scanPenalty(s.db.QueryRowContext(ctx, query, tokenID, at, liftedBy))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lift penalty: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, now time.Time, offset, limit int) ([]*models.Penalty, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM token_penalties WHERE `+fmt.Sprintf(activeClause, "$1"), now,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count active penalties: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+penaltyColumns+`
		FROM token_penalties
		WHERE `+fmt.Sprintf(activeClause, "$1")+`
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, now, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list active penalties: %w", err)
	}
	items, err := scanPenalties(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list active penalties: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) History(ctx context.Context, tokenID string, offset, limit int) ([]*models.Penalty, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM token_penalties WHERE token_id = $1`, tokenID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count penalty history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+penaltyColumns+`
		FROM token_penalties
		WHERE token_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, tokenID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("penalty history: %w", err)
	}
	items, err := scanPenalties(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("penalty history: %w", err)
	}
	return items, total, nil
}

// SweepActive clears the active flag on lifted or expired rows.
func (s *PostgresStore) SweepActive(ctx context.Context, now time.Time) (removed, remaining int, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE token_penalties SET active = FALSE
		WHERE active AND (lifted_at IS NOT NULL OR (expires_at IS NOT NULL AND expires_at <= $1))`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("sweep penalties: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("sweep penalties rows affected: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM token_penalties WHERE active`).Scan(&remaining); err != nil {
		return int(n), 0, fmt.Errorf("count active penalties: %w", err)
	}
	return int(n), remaining, nil
}

type penaltyRow interface {
	Scan(dest ...any) error
}

func scanPenalty(row penaltyRow) (*models.Penalty, error) {
	var (
		p           models.Penalty
		penaltyType string
		expiresAt   sql.NullTime
		liftedAt    sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.TokenID, &p.TokenName, &p.UserID, &penaltyType, &p.Reason,
		&p.AbuseScore, &p.RateLimitRPM, &p.StartTime, &expiresAt, &liftedAt, &p.LiftedBy); err != nil {
		return nil, err
	}
	p.PenaltyType = models.PenaltyType(penaltyType)
	if expiresAt.Valid {
		p.EndTime = &expiresAt.Time
	}
	if liftedAt.Valid {
		p.LiftedAt = &liftedAt.Time
	}
	return &p, nil
}

func scanPenalties(rows *sql.Rows) ([]*models.Penalty, error) {
	defer rows.Close()
	items := []*models.Penalty{}
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
