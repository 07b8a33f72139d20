// Package repository содержит хранилища сессий и попыток оформления заказа.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/flightbook-web/internal/checkout"
	"github.com/mmeshcher/flightbook-web/internal/model"
	"github.com/mmeshcher/flightbook-web/internal/session"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// LoadSession возвращает токен и профиль сессии. Отсутствующая сессия возвращается пустой.
func (r *PostgresRepository) LoadSession(ctx context.Context, sessionID string) (session.Snapshot, error) {
	var (
		snap    session.Snapshot
		profile []byte
	)

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT token, user_profile FROM sessions WHERE id = $1`,
			sessionID,
		).Scan(&snap.Token, &profile)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Snapshot{}, nil
		}
		return session.Snapshot{}, fmt.Errorf("select session: %w", err)
	}

	if len(profile) > 0 && string(profile) != "null" {
		var u model.UserProfile
		if err := json.Unmarshal(profile, &u); err != nil {
			return session.Snapshot{}, fmt.Errorf("decode user profile: %w", err)
		}
		snap.User = &u
	}

	return snap, nil
}

// SaveSession сохраняет токен и профиль одной записью.
func (r *PostgresRepository) SaveSession(ctx context.Context, sessionID string, snap session.Snapshot) error {
	var profile []byte
	if snap.User != nil {
		var err error
		profile, err = json.Marshal(snap.User)
		if err != nil {
			return fmt.Errorf("encode user profile: %w", err)
		}
	}

	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO sessions (id, token, user_profile, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (id) DO UPDATE
			 SET token = EXCLUDED.token, user_profile = EXCLUDED.user_profile, updated_at = now()`,
			sessionID, snap.Token, profile,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession удаляет токен и профиль вместе.
func (r *PostgresRepository) DeleteSession(ctx context.Context, sessionID string) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

const attemptColumns = `id::text, session_id, flight_id, method, phase, failed_phase, booking_id,
	client_secret, payment_intent_id, total_price, error_message, created_at, updated_at`

// CreateAttempt сохраняет новую попытку оформления.
// Повторная вставка с тем же идентификатором возвращает checkout.ErrAttemptExists.
func (r *PostgresRepository) CreateAttempt(ctx context.Context, a checkout.Attempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO checkout_attempts (id, session_id, flight_id, method, phase, failed_phase, booking_id,
			client_secret, payment_intent_id, total_price, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.SessionID, a.FlightID, string(a.Method), string(a.Phase), string(a.FailedAt), a.BookingID,
		a.ClientSecret, a.PaymentIntentID, a.TotalPrice, a.Error,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", checkout.ErrAttemptExists, a.ID)
		}
		return fmt.Errorf("insert checkout attempt: %w", err)
	}
	return nil
}

// GetAttempt возвращает попытку оформления по идентификатору.
func (r *PostgresRepository) GetAttempt(ctx context.Context, id string) (checkout.Attempt, error) {
	var a checkout.Attempt
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`SELECT `+attemptColumns+` FROM checkout_attempts WHERE id = $1`,
			id,
		)
		var scanErr error
		a, scanErr = scanAttempt(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return checkout.Attempt{}, checkout.ErrAttemptNotFound
		}
		return checkout.Attempt{}, fmt.Errorf("select checkout attempt: %w", err)
	}
	return a, nil
}

// TransitionAttempt обновляет попытку, только если её текущая фаза входит в from.
func (r *PostgresRepository) TransitionAttempt(ctx context.Context, id string, from []checkout.Phase, next checkout.Attempt) error {
	phases := make([]string, 0, len(from))
	for _, p := range from {
		phases = append(phases, string(p))
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE checkout_attempts
		 SET flight_id = $3, method = $4, phase = $5, failed_phase = $6, booking_id = $7,
		     client_secret = $8, payment_intent_id = $9, total_price = $10, error_message = $11,
		     updated_at = now()
		 WHERE id = $1 AND phase = ANY($2)`,
		id, phases, next.FlightID, string(next.Method), string(next.Phase), string(next.FailedAt), next.BookingID,
		next.ClientSecret, next.PaymentIntentID, next.TotalPrice, next.Error,
	)
	if err != nil {
		return fmt.Errorf("update checkout attempt: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM checkout_attempts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check checkout attempt: %w", err)
	}
	if !exists {
		return checkout.ErrAttemptNotFound
	}
	return checkout.ErrPhaseConflict
}

func scanAttempt(row pgx.Row) (checkout.Attempt, error) {
	var (
		a                          checkout.Attempt
		method, phase, failedPhase string
	)
	err := row.Scan(&a.ID, &a.SessionID, &a.FlightID, &method, &phase, &failedPhase, &a.BookingID,
		&a.ClientSecret, &a.PaymentIntentID, &a.TotalPrice, &a.Error, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return checkout.Attempt{}, err
	}
	a.Method = model.PaymentMethod(method)
	a.Phase = checkout.Phase(phase)
	a.FailedAt = checkout.Phase(failedPhase)
	return a, nil
}
