package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gamehub-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// setupRepository starts a PostgreSQL container and applies migrations.
func setupRepository(t *testing.T) *Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("gamehub"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewRepositoryFromPool(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, repo.RunMigrations(ctx))
	return repo
}

func insertAccount(t *testing.T, repo *Repository, username string, roleID int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := repo.pool.Exec(context.Background(),
		`INSERT INTO accounts (id, email, username, role_id) VALUES ($1, $2, $3, $4)`,
		id, username+"@example.com", username, roleID,
	)
	require.NoError(t, err)
	return id
}

func insertAchievement(t *testing.T, repo *Repository, name string) int {
	t.Helper()
	var id int
	err := repo.pool.QueryRow(context.Background(),
		`INSERT INTO achievements (name, description, image) VALUES ($1, $2, $3) RETURNING id`,
		name, name+" description", name+".png",
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestRepository(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	player := insertAccount(t, repo, "player", 1)
	operator := insertAccount(t, repo, "operator", 2)
	achievementID := insertAchievement(t, repo, "First Blood")

	t.Run("role catalogue", func(t *testing.T) {
		name, err := repo.RoleName(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "Dedicated Game Server", name)

		_, err = repo.RoleName(ctx, 42)
		assert.ErrorIs(t, err, domain.ErrRoleNotFound)
	})

	t.Run("account lookup", func(t *testing.T) {
		account, err := repo.GetAccount(ctx, operator)
		require.NoError(t, err)
		assert.Equal(t, "operator", account.Username)
		assert.Equal(t, "Dedicated Game Server", account.RoleName)

		_, err = repo.GetAccount(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})

	t.Run("catalogue lookups", func(t *testing.T) {
		rank, err := repo.GetRank(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, "Gold", rank.Title)

		_, err = repo.GetRank(ctx, 99)
		assert.ErrorIs(t, err, domain.ErrRankNotFound)

		achievement, err := repo.GetAchievement(ctx, achievementID)
		require.NoError(t, err)
		assert.Equal(t, "First Blood", achievement.Name)

		_, err = repo.GetAchievement(ctx, achievementID+100)
		assert.ErrorIs(t, err, domain.ErrAchievementNotFound)
	})

	t.Run("grant is unique per pair", func(t *testing.T) {
		require.NoError(t, repo.GrantAchievement(ctx, player, achievementID))
		assert.ErrorIs(t, repo.GrantAchievement(ctx, player, achievementID), domain.ErrAlreadyGranted)

		achievements, err := repo.ListAchievements(ctx, player)
		require.NoError(t, err)
		require.Len(t, achievements, 1)
		assert.Equal(t, achievementID, achievements[0].ID)

		assert.ErrorIs(t, repo.GrantAchievement(ctx, uuid.New(), achievementID), domain.ErrAccountNotFound)
		assert.ErrorIs(t, repo.GrantAchievement(ctx, player, achievementID+100), domain.ErrAchievementNotFound)
	})

	t.Run("rank upsert updates in place", func(t *testing.T) {
		ranks, err := repo.AccountRanks(ctx, []uuid.UUID{player})
		require.NoError(t, err)
		assert.Empty(t, ranks)

		require.NoError(t, repo.UpsertAccountRank(ctx, player, 2))
		require.NoError(t, repo.UpsertAccountRank(ctx, player, 4))

		var rows int
		require.NoError(t, repo.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM account_ranks WHERE account_id = $1`, player).Scan(&rows))
		assert.Equal(t, 1, rows)

		ranks, err = repo.AccountRanks(ctx, []uuid.UUID{player, operator})
		require.NoError(t, err)
		assert.Equal(t, map[uuid.UUID]int{player: 4}, ranks)

		assert.ErrorIs(t, repo.UpsertAccountRank(ctx, player, 99), domain.ErrRankNotFound)
		assert.ErrorIs(t, repo.UpsertAccountRank(ctx, uuid.New(), 2), domain.ErrAccountNotFound)
	})
}
