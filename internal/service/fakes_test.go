package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gamehub-backend/internal/auth"
	"github.com/gamehub-backend/internal/domain"
	"github.com/google/uuid"
)

const (
	playerRoleID   = 1
	operatorRoleID = 2
	operatorRole   = "Dedicated Game Server"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryStore is an in-memory AccountStore, RankStore and RoleResolver
type memoryStore struct {
	mu           sync.Mutex
	roles        map[int]string
	ranks        map[int]string
	accounts     map[uuid.UUID]domain.Account
	achievements map[int]domain.Achievement
	grants       map[uuid.UUID][]int
	accountRanks map[uuid.UUID]int
	rankReads    int
	failRanks    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		roles:        map[int]string{playerRoleID: "Player", operatorRoleID: operatorRole},
		ranks:        map[int]string{1: "Bronze", 2: "Silver", 3: "Gold", 4: "Platinum", 5: "Diamond"},
		accounts:     make(map[uuid.UUID]domain.Account),
		achievements: make(map[int]domain.Achievement),
		grants:       make(map[uuid.UUID][]int),
		accountRanks: make(map[uuid.UUID]int),
	}
}

func (m *memoryStore) addAccount(roleID int) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.accounts[id] = domain.Account{
		ID:       id,
		Username: id.String()[:8],
		RoleID:   roleID,
		RoleName: m.roles[roleID],
	}
	return id
}

func (m *memoryStore) addAchievement(id int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.achievements[id] = domain.Achievement{ID: id, Name: name, Description: name, Image: name + ".png"}
}

func (m *memoryStore) setRank(id uuid.UUID, rank int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountRanks[id] = rank
}

func (m *memoryStore) RoleName(_ context.Context, roleID int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.roles[roleID]
	if !ok {
		return "", domain.ErrRoleNotFound
	}
	return name, nil
}

func (m *memoryStore) GetAccount(_ context.Context, accountID uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

func (m *memoryStore) GetAchievement(_ context.Context, achievementID int) (*domain.Achievement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	achievement, ok := m.achievements[achievementID]
	if !ok {
		return nil, domain.ErrAchievementNotFound
	}
	return &achievement, nil
}

func (m *memoryStore) GetRank(_ context.Context, rankID int) (*domain.Rank, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	title, ok := m.ranks[rankID]
	if !ok {
		return nil, domain.ErrRankNotFound
	}
	return &domain.Rank{ID: rankID, Title: title}, nil
}

func (m *memoryStore) GrantAchievement(_ context.Context, accountID uuid.UUID, achievementID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.grants[accountID] {
		if id == achievementID {
			return domain.ErrAlreadyGranted
		}
	}
	m.grants[accountID] = append(m.grants[accountID], achievementID)
	return nil
}

func (m *memoryStore) ListAchievements(_ context.Context, accountID uuid.UUID) ([]domain.Achievement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	achievements := []domain.Achievement{}
	for _, id := range m.grants[accountID] {
		achievements = append(achievements, m.achievements[id])
	}
	return achievements, nil
}

func (m *memoryStore) UpsertAccountRank(_ context.Context, accountID uuid.UUID, rankID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountRanks[accountID] = rankID
	return nil
}

func (m *memoryStore) AccountRanks(_ context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rankReads++
	if m.failRanks != nil {
		return nil, m.failRanks
	}
	ranks := make(map[uuid.UUID]int)
	for _, id := range accountIDs {
		if rank, ok := m.accountRanks[id]; ok {
			ranks[id] = rank
		}
	}
	return ranks, nil
}

// memoryRegistry is an in-memory ServerRegistry
type memoryRegistry struct {
	mu        sync.Mutex
	records   map[string]domain.ServerRecord
	failWrite error
	delay     time.Duration
}

func newMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{records: make(map[string]domain.ServerRecord)}
}

func (r *memoryRegistry) Publish(ctx context.Context, record domain.ServerRecord) error {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return domain.StoreError("setting server record", ctx.Err())
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return r.failWrite
	}
	r.records[record.Address] = record
	return nil
}

func (r *memoryRegistry) Get(_ context.Context, address string) (*domain.ServerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[address]
	if !ok {
		return nil, domain.ErrServerNotFound
	}
	return &record, nil
}

func (r *memoryRegistry) List(_ context.Context) ([]domain.ServerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]domain.ServerRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}
	return records, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []domain.ServerRecord
}

func (n *recordingNotifier) BroadcastServerUpdate(record domain.ServerRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, record)
}

type fixture struct {
	store    *memoryStore
	registry *memoryRegistry
	notifier *recordingNotifier
	ops      *Operations
	operator auth.Claims
}

func newFixture() *fixture {
	store := newMemoryStore()
	registry := newMemoryRegistry()
	logger := discardLogger()

	ranks := NewRankLookup(store, 2)
	ops := NewOperations(
		auth.NewGate(store, logger),
		store,
		registry,
		ranks,
		NewMatchmaker(registry, ranks, logger),
		Options{OperatorRole: operatorRole, StoreTimeout: time.Second},
		logger,
	)
	notifier := &recordingNotifier{}
	ops.SetNotifier(notifier)

	operatorID := store.addAccount(operatorRoleID)
	return &fixture{
		store:    store,
		registry: registry,
		notifier: notifier,
		ops:      ops,
		operator: auth.Claims{Subject: operatorID.String(), RoleID: operatorRoleID},
	}
}

func (f *fixture) newPlayer() (uuid.UUID, auth.Claims) {
	id := f.store.addAccount(playerRoleID)
	return id, auth.Claims{Subject: id.String(), RoleID: playerRoleID}
}
