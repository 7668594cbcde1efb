// Package repository содержит реализацию хранилища взносов и досок мечты в PostgreSQL.
package repository

import (
	"context"
	"embed"
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

	"github.com/Policy-Guru-za/chipin/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к взносам и доскам мечты в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
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

	r := &PostgresRepository{pool: pool, delays: defaultDelays}

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

var defaultDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// withRetry повторяет операцию при конфликте сериализации, взаимной блокировке
// и обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
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

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func statusStrings(statuses []model.PaymentStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

const contributionColumns = `id::text, dream_board_id::text, amount_cents, fee_cents,
	payment_provider, payment_ref, payment_status, created_at, updated_at`

func scanContribution(row pgx.Row) (*model.Contribution, error) {
	var (
		c        model.Contribution
		provider string
		status   string
	)
	err := row.Scan(&c.ID, &c.DreamBoardID, &c.AmountCents, &c.FeeCents,
		&provider, &c.PaymentRef, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.PaymentProvider = model.Provider(provider)
	c.PaymentStatus = model.PaymentStatus(status)
	return &c, nil
}

// FindContributionByRef возвращает взнос по провайдеру и ссылке платежа.
func (r *PostgresRepository) FindContributionByRef(ctx context.Context, provider model.Provider, ref string) (*model.Contribution, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+contributionColumns+`
		 FROM contributions
		 WHERE payment_provider = $1 AND payment_ref = $2`,
		string(provider), ref,
	)

	c, err := scanContribution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", model.ErrContributionNotFound, provider, ref)
		}
		return nil, fmt.Errorf("get contribution: %w", err)
	}
	return c, nil
}

// UpdateContributionStatus меняет статус взноса, если он не в итоговом статусе
// (completed, refunded). Возвращает false, если строка не изменилась.
func (r *PostgresRepository) UpdateContributionStatus(ctx context.Context, id string, status model.PaymentStatus) (bool, error) {
	var updated bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE contributions
			 SET payment_status = $2, updated_at = now()
			 WHERE id = $1 AND payment_status <> ALL($3) AND payment_status <> $2`,
			id, string(status), statusStrings(model.SettledPaymentStatuses),
		)
		if err != nil {
			return err
		}
		updated = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update contribution status: %w", err)
	}
	return updated, nil
}

// MarkDreamBoardFundedIfNeeded переводит доску в funded одним условным UPDATE,
// если собранная сумма подтверждённых взносов достигла цели.
func (r *PostgresRepository) MarkDreamBoardFundedIfNeeded(ctx context.Context, dreamBoardID string) (bool, error) {
	var funded bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE dream_boards
			 SET status = $2, funded_at = now(), updated_at = now()
			 WHERE id = $1
			   AND status = $3
			   AND goal_cents <= (
			       SELECT COALESCE(SUM(amount_cents - fee_cents), 0)
			       FROM contributions
			       WHERE dream_board_id = $1 AND payment_status = $4
			   )`,
			dreamBoardID,
			string(model.DreamBoardStatusFunded),
			string(model.DreamBoardStatusActive),
			string(model.PaymentStatusCompleted),
		)
		if err != nil {
			return err
		}
		funded = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark dream board funded: %w", err)
	}
	return funded, nil
}

// ListPendingByProviderAndWindow возвращает незавершённые взносы провайдера,
// созданные в интервале [from, to).
func (r *PostgresRepository) ListPendingByProviderAndWindow(ctx context.Context, provider model.Provider, from, to time.Time) ([]model.Contribution, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+contributionColumns+`
		 FROM contributions
		 WHERE payment_provider = $1
		   AND payment_status = ANY($2)
		   AND created_at >= $3 AND created_at < $4
		 ORDER BY created_at`,
		string(provider),
		statusStrings(model.OpenPaymentStatuses),
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending contributions: %w", err)
	}
	defer rows.Close()

	var res []model.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// FindDreamBoard возвращает доску мечты по id.
func (r *PostgresRepository) FindDreamBoard(ctx context.Context, dreamBoardID string) (*model.DreamBoard, error) {
	var (
		b      model.DreamBoard
		status string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, goal_cents, status, funded_at, created_at
		 FROM dream_boards
		 WHERE id = $1`,
		dreamBoardID,
	).Scan(&b.ID, &b.GoalCents, &status, &b.FundedAt, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrDreamBoardNotFound, dreamBoardID)
		}
		return nil, fmt.Errorf("get dream board: %w", err)
	}
	b.Status = model.DreamBoardStatus(status)
	return &b, nil
}

// RaisedCents возвращает сумму чистых взносов доски по подтверждённым платежам.
func (r *PostgresRepository) RaisedCents(ctx context.Context, dreamBoardID string) (int64, error) {
	var raised int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_cents - fee_cents), 0)
		 FROM contributions
		 WHERE dream_board_id = $1 AND payment_status = $2`,
		dreamBoardID, string(model.PaymentStatusCompleted),
	).Scan(&raised)
	if err != nil {
		return 0, fmt.Errorf("sum raised: %w", err)
	}
	return raised, nil
}
