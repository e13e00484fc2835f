package service

import (
	"context"

	"github.com/google/uuid"
)

// RankStore reads stored account ranks
type RankStore interface {
	AccountRanks(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

// RankLookup resolves effective ranks. It is the only place that knows the
// rank assumed for unranked accounts.
type RankLookup struct {
	store       RankStore
	defaultRank int
}

// NewRankLookup creates a new rank lookup
func NewRankLookup(store RankStore, defaultRank int) *RankLookup {
	return &RankLookup{
		store:       store,
		defaultRank: defaultRank,
	}
}

// DefaultRank returns the rank assumed for unranked accounts
func (l *RankLookup) DefaultRank() int {
	return l.defaultRank
}

// Lookup returns the account's rank and whether it was stored rather than defaulted
func (l *RankLookup) Lookup(ctx context.Context, accountID uuid.UUID) (int, bool, error) {
	ranks, err := l.store.AccountRanks(ctx, []uuid.UUID{accountID})
	if err != nil {
		return 0, false, err
	}
	if rank, ok := ranks[accountID]; ok {
		return rank, true, nil
	}
	return l.defaultRank, false, nil
}

// RankOf returns the account's effective rank
func (l *RankLookup) RankOf(ctx context.Context, accountID uuid.UUID) (int, error) {
	rank, _, err := l.Lookup(ctx, accountID)
	return rank, err
}

// RanksOf returns the effective rank of every given account
func (l *RankLookup) RanksOf(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	stored, err := l.store.AccountRanks(ctx, accountIDs)
	if err != nil {
		return nil, err
	}

	ranks := make(map[uuid.UUID]int, len(accountIDs))
	for _, id := range accountIDs {
		if rank, ok := stored[id]; ok {
			ranks[id] = rank
		} else {
			ranks[id] = l.defaultRank
		}
	}
	return ranks, nil
}
