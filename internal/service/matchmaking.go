package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/gamehub-backend/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ServerLister enumerates live game servers
type ServerLister interface {
	List(ctx context.Context) ([]domain.ServerRecord, error)
}

// Matchmaker picks the live server whose players' mean rank is closest to the
// caller's rank. Selection is advisory: no seat is reserved, so concurrent
// callers may be sent to the same server.
type Matchmaker struct {
	servers ServerLister
	ranks   *RankLookup
	logger  *slog.Logger
}

// NewMatchmaker creates a new matchmaking engine
func NewMatchmaker(servers ServerLister, ranks *RankLookup, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		servers: servers,
		ranks:   ranks,
		logger:  logger,
	}
}

// MatchmakeFor returns the best server for accountID, or ErrNoServers when
// the registry is empty. Empty servers are only chosen when every server is
// empty. Ties go to the lexicographically smallest address.
func (m *Matchmaker) MatchmakeFor(ctx context.Context, accountID uuid.UUID) (*domain.ServerRecord, error) {
	var (
		servers    []domain.ServerRecord
		callerRank int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := m.servers.List(gctx)
		if err != nil {
			return fmt.Errorf("listing servers: %w", err)
		}
		servers = list
		return nil
	})
	g.Go(func() error {
		rank, err := m.ranks.RankOf(gctx, accountID)
		if err != nil {
			return fmt.Errorf("getting caller rank: %w", err)
		}
		callerRank = rank
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(servers) == 0 {
		return nil, domain.ErrNoServers
	}

	playerRanks, err := m.ranks.RanksOf(ctx, connectedPlayers(servers))
	if err != nil {
		return nil, fmt.Errorf("getting player ranks: %w", err)
	}

	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Address < servers[j].Address
	})

	best := 0
	bestScore := math.Inf(1)
	for i, server := range servers {
		ranks := make([]int, len(server.PlayerIDs))
		for j, playerID := range server.PlayerIDs {
			ranks[j] = playerRanks[playerID]
		}
		score := RankDistance(callerRank, ranks)
		if score < bestScore {
			best = i
			bestScore = score
		}
	}

	selected := servers[best]
	m.logger.Debug("matchmade",
		"account_id", accountID,
		"address", selected.Address,
		"caller_rank", callerRank,
		"distance", bestScore,
		"candidates", len(servers),
	)
	return &selected, nil
}

// RankDistance is the absolute difference between callerRank and the mean of
// playerRanks. An empty server has infinite distance.
func RankDistance(callerRank int, playerRanks []int) float64 {
	if len(playerRanks) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for _, rank := range playerRanks {
		sum += float64(rank)
	}
	mean := sum / float64(len(playerRanks))
	return math.Abs(mean - float64(callerRank))
}

func connectedPlayers(servers []domain.ServerRecord) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, server := range servers {
		for _, id := range server.PlayerIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
