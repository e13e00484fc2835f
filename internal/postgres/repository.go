package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gamehub-backend/internal/config"
	"github.com/gamehub-backend/internal/domain"
	"github.com/gamehub-backend/internal/postgres/migrations"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const foreignKeyViolation = "23503"

// Repository provides PostgreSQL-based access to accounts, roles, ranks and
// achievements
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewRepositoryFromPool(pool, logger), nil
}

// NewRepositoryFromPool wraps an existing pool
func NewRepositoryFromPool(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return domain.StoreError("pinging database", err)
	}
	return nil
}

// RunMigrations applies the embedded goose migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RoleName returns the name of the role with the given id
func (r *Repository) RoleName(ctx context.Context, roleID int) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM roles WHERE id = $1`, roleID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrRoleNotFound
		}
		return "", domain.StoreError("getting role", err)
	}
	return name, nil
}

// GetAccount retrieves an account with its role name
func (r *Repository) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT a.id, a.email, a.username, a.role_id, ro.name, a.created_at
		FROM accounts a
		JOIN roles ro ON ro.id = a.role_id
		WHERE a.id = $1
	`
	var account domain.Account
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&account.ID,
		&account.Email,
		&account.Username,
		&account.RoleID,
		&account.RoleName,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, domain.StoreError("getting account", err)
	}
	return &account, nil
}

// GetAchievement retrieves an achievement by id
func (r *Repository) GetAchievement(ctx context.Context, achievementID int) (*domain.Achievement, error) {
	query := `SELECT id, name, description, image FROM achievements WHERE id = $1`
	var achievement domain.Achievement
	err := r.pool.QueryRow(ctx, query, achievementID).Scan(
		&achievement.ID,
		&achievement.Name,
		&achievement.Description,
		&achievement.Image,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAchievementNotFound
		}
		return nil, domain.StoreError("getting achievement", err)
	}
	return &achievement, nil
}

// GetRank retrieves a rank by id
func (r *Repository) GetRank(ctx context.Context, rankID int) (*domain.Rank, error) {
	var rank domain.Rank
	err := r.pool.QueryRow(ctx, `SELECT id, title FROM ranks WHERE id = $1`, rankID).Scan(&rank.ID, &rank.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRankNotFound
		}
		return nil, domain.StoreError("getting rank", err)
	}
	return &rank, nil
}

// GrantAchievement records an achievement grant. The primary key on
// (account_id, achievement_id) makes a repeated grant a no-op that is
// reported as ErrAlreadyGranted.
func (r *Repository) GrantAchievement(ctx context.Context, accountID uuid.UUID, achievementID int) error {
	query := `
		INSERT INTO account_achievements (account_id, achievement_id)
		VALUES ($1, $2)
		ON CONFLICT (account_id, achievement_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, accountID, achievementID)
	if err != nil {
		if mapped := mapForeignKey(err); mapped != nil {
			return mapped
		}
		return domain.StoreError("granting achievement", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAlreadyGranted
	}
	return nil
}

// ListAchievements returns the achievements granted to an account in grant order
func (r *Repository) ListAchievements(ctx context.Context, accountID uuid.UUID) ([]domain.Achievement, error) {
	query := `
		SELECT a.id, a.name, a.description, a.image
		FROM account_achievements aa
		JOIN achievements a ON a.id = aa.achievement_id
		WHERE aa.account_id = $1
		ORDER BY aa.granted_at, a.id
	`
	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, domain.StoreError("listing achievements", err)
	}
	defer rows.Close()

	achievements := []domain.Achievement{}
	for rows.Next() {
		var achievement domain.Achievement
		if err := rows.Scan(&achievement.ID, &achievement.Name, &achievement.Description, &achievement.Image); err != nil {
			return nil, domain.StoreError("scanning achievement", err)
		}
		achievements = append(achievements, achievement)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("listing achievements", err)
	}
	return achievements, nil
}

// UpsertAccountRank inserts or replaces an account's rank in one statement
func (r *Repository) UpsertAccountRank(ctx context.Context, accountID uuid.UUID, rankID int) error {
	query := `
		INSERT INTO account_ranks (account_id, rank_id, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (account_id)
		DO UPDATE SET rank_id = EXCLUDED.rank_id, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.pool.Exec(ctx, query, accountID, rankID); err != nil {
		if mapped := mapForeignKey(err); mapped != nil {
			return mapped
		}
		return domain.StoreError("upserting account rank", err)
	}
	return nil
}

// AccountRanks returns the stored rank of each given account. Accounts without
// a rank are absent from the result.
func (r *Repository) AccountRanks(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	ranks := make(map[uuid.UUID]int, len(accountIDs))
	if len(accountIDs) == 0 {
		return ranks, nil
	}

	ids := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		ids[i] = id.String()
	}

	query := `SELECT account_id, rank_id FROM account_ranks WHERE account_id = ANY($1::uuid[])`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, domain.StoreError("getting account ranks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID uuid.UUID
		var rankID int
		if err := rows.Scan(&accountID, &rankID); err != nil {
			return nil, domain.StoreError("scanning account rank", err)
		}
		ranks[accountID] = rankID
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("getting account ranks", err)
	}
	return ranks, nil
}

// mapForeignKey turns a foreign key violation into the matching not-found error
func mapForeignKey(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != foreignKeyViolation {
		return nil
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "achievement_id"):
		return domain.ErrAchievementNotFound
	case strings.Contains(pgErr.ConstraintName, "rank_id"):
		return domain.ErrRankNotFound
	default:
		return domain.ErrAccountNotFound
	}
}
