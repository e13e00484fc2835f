package service

import (
	"context"
	"math"
	"testing"

	"github.com/gamehub-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publish(t *testing.T, registry *memoryRegistry, address string, players ...uuid.UUID) {
	t.Helper()
	if players == nil {
		players = []uuid.UUID{}
	}
	require.NoError(t, registry.Publish(context.Background(), domain.ServerRecord{
		Address:   address,
		PlayerIDs: players,
		MapName:   "dust",
	}))
}

func newTestMatchmaker() (*Matchmaker, *memoryStore, *memoryRegistry) {
	store := newMemoryStore()
	registry := newMemoryRegistry()
	return NewMatchmaker(registry, NewRankLookup(store, 2), discardLogger()), store, registry
}

func TestRankDistance(t *testing.T) {
	tests := []struct {
		name   string
		caller int
		ranks  []int
		want   float64
	}{
		{name: "empty server", caller: 3, ranks: nil, want: math.Inf(1)},
		{name: "exact match", caller: 3, ranks: []int{3}, want: 0},
		{name: "mean above caller", caller: 1, ranks: []int{2, 4}, want: 2},
		{name: "mean below caller", caller: 5, ranks: []int{1, 2, 3}, want: 3},
		{name: "fractional mean", caller: 2, ranks: []int{2, 3}, want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RankDistance(tt.caller, tt.ranks))
		})
	}
}

func TestMatchmakeFor_EmptyRegistry(t *testing.T) {
	mm, _, _ := newTestMatchmaker()

	_, err := mm.MatchmakeFor(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNoServers)
}

func TestMatchmakeFor_PrefersPopulatedServers(t *testing.T) {
	mm, store, registry := newTestMatchmaker()
	caller := uuid.New()
	store.setRank(caller, 1)

	far := uuid.New()
	store.setRank(far, 5)

	// "a" sorts first and would win any tie; it is empty
	publish(t, registry, "a-empty:7777")
	publish(t, registry, "b-far:7777", far)

	got, err := mm.MatchmakeFor(context.Background(), caller)
	require.NoError(t, err)
	assert.Equal(t, "b-far:7777", got.Address)
}

func TestMatchmakeFor_AllEmptyPicksFirstAddress(t *testing.T) {
	mm, _, registry := newTestMatchmaker()
	publish(t, registry, "c:7777")
	publish(t, registry, "a:7777")
	publish(t, registry, "b:7777")

	got, err := mm.MatchmakeFor(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "a:7777", got.Address)
}

func TestMatchmakeFor_TieBreaksOnAddress(t *testing.T) {
	mm, store, registry := newTestMatchmaker()
	caller := uuid.New()
	store.setRank(caller, 3)

	p1, p2 := uuid.New(), uuid.New()
	store.setRank(p1, 2)
	store.setRank(p2, 4)
	publish(t, registry, "z:7777", p1)
	publish(t, registry, "m:7777", p2)

	got, err := mm.MatchmakeFor(context.Background(), caller)
	require.NoError(t, err)
	assert.Equal(t, "m:7777", got.Address)
}

func TestMatchmakeFor_UnrankedUseDefault(t *testing.T) {
	mm, store, registry := newTestMatchmaker()
	caller := uuid.New() // unranked, treated as 2

	unranked := uuid.New()
	gold := uuid.New()
	store.setRank(gold, 3)
	publish(t, registry, "gold:7777", gold)
	publish(t, registry, "silver:7777", unranked)

	got, err := mm.MatchmakeFor(context.Background(), caller)
	require.NoError(t, err)
	assert.Equal(t, "silver:7777", got.Address)
}

func TestMatchmakeFor_DoesNotReserve(t *testing.T) {
	mm, store, registry := newTestMatchmaker()
	player := uuid.New()
	store.setRank(player, 2)
	publish(t, registry, "only:7777", player)

	first, err := mm.MatchmakeFor(context.Background(), uuid.New())
	require.NoError(t, err)
	second, err := mm.MatchmakeFor(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, first.Address, second.Address)
	stored, err := registry.Get(context.Background(), "only:7777")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.PlayerCount())
}

func TestMatchmakeFor_RankStoreFailure(t *testing.T) {
	mm, store, registry := newTestMatchmaker()
	publish(t, registry, "a:7777", uuid.New())
	store.failRanks = domain.StoreError("getting account ranks", context.DeadlineExceeded)

	_, err := mm.MatchmakeFor(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrStoreFailure)
	assert.NotErrorIs(t, err, domain.ErrNoServers)
}
