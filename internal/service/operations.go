package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gamehub-backend/internal/auth"
	"github.com/gamehub-backend/internal/domain"
	"github.com/google/uuid"
)

// Authorizer decides whether claims hold a named role
type Authorizer interface {
	Authorize(ctx context.Context, claims auth.Claims, requiredRole string) bool
}

// ServerRegistry stores live game server records
type ServerRegistry interface {
	ServerLister
	Publish(ctx context.Context, record domain.ServerRecord) error
	Get(ctx context.Context, address string) (*domain.ServerRecord, error)
}

// AccountStore reads and mutates accounts and their grants
type AccountStore interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	GetAchievement(ctx context.Context, achievementID int) (*domain.Achievement, error)
	GetRank(ctx context.Context, rankID int) (*domain.Rank, error)
	GrantAchievement(ctx context.Context, accountID uuid.UUID, achievementID int) error
	ListAchievements(ctx context.Context, accountID uuid.UUID) ([]domain.Achievement, error)
	UpsertAccountRank(ctx context.Context, accountID uuid.UUID, rankID int) error
}

// ServerNotifier is told about every published server
type ServerNotifier interface {
	BroadcastServerUpdate(record domain.ServerRecord)
}

// Options configures the operations facade
type Options struct {
	OperatorRole string
	StoreTimeout time.Duration
}

// Operations is the entry point for every state-changing operation and the
// reads that accompany them. Each mutation authorizes the caller's claims
// first, then validates, then mutates.
type Operations struct {
	gate       Authorizer
	accounts   AccountStore
	registry   ServerRegistry
	ranks      *RankLookup
	matchmaker *Matchmaker
	notifier   ServerNotifier
	options    Options
	logger     *slog.Logger
}

// NewOperations creates a new operations facade
func NewOperations(
	gate Authorizer,
	accounts AccountStore,
	registry ServerRegistry,
	ranks *RankLookup,
	matchmaker *Matchmaker,
	opts Options,
	logger *slog.Logger,
) *Operations {
	return &Operations{
		gate:       gate,
		accounts:   accounts,
		registry:   registry,
		ranks:      ranks,
		matchmaker: matchmaker,
		options:    opts,
		logger:     logger,
	}
}

// SetNotifier sets the receiver of server updates
func (s *Operations) SetNotifier(notifier ServerNotifier) {
	s.notifier = notifier
}

// withTimeout bounds the store calls of one operation
func (s *Operations) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.options.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.options.StoreTimeout)
}

// requireOperator runs the permission gate for the server-operator role
func (s *Operations) requireOperator(ctx context.Context, claims auth.Claims, op string) error {
	if !s.gate.Authorize(ctx, claims, s.options.OperatorRole) {
		s.logger.Info("operation denied", "operation", op, "subject", claims.Subject)
		return domain.ErrUnauthorized
	}
	return nil
}

// PublishServer stores or refreshes a game server record
func (s *Operations) PublishServer(ctx context.Context, claims auth.Claims, req domain.PublishServerRequest) (*domain.ServerRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.requireOperator(ctx, claims, "publish_server"); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	record := req.ToRecord()
	if err := s.registry.Publish(ctx, record); err != nil {
		return nil, fmt.Errorf("publishing server: %w", err)
	}

	if s.notifier != nil {
		s.notifier.BroadcastServerUpdate(record)
	}

	s.logger.Debug("server published",
		"address", record.Address,
		"map_name", record.MapName,
		"players", record.PlayerCount(),
	)
	return &record, nil
}

// GetServer returns a single live server
func (s *Operations) GetServer(ctx context.Context, address string) (*domain.ServerRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.registry.Get(ctx, address)
}

// ListServers returns all live servers ordered by address
func (s *Operations) ListServers(ctx context.Context) ([]domain.ServerRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	servers, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Address < servers[j].Address
	})
	return servers, nil
}

// Matchmake recommends a server to the calling account. Server operators
// cannot matchmake.
func (s *Operations) Matchmake(ctx context.Context, claims auth.Claims) (*domain.ServerRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	accountID, err := s.callerID(claims)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.RoleName == s.options.OperatorRole {
		s.logger.Info("operation denied", "operation", "matchmake", "subject", claims.Subject)
		return nil, domain.ErrUnauthorized
	}

	return s.matchmaker.MatchmakeFor(ctx, account.ID)
}

// GrantAchievement grants an achievement to an account once
func (s *Operations) GrantAchievement(ctx context.Context, claims auth.Claims, req domain.GrantAchievementRequest) (*domain.AchievementGrant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.requireOperator(ctx, claims, "grant_achievement"); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.accounts.GetAccount(ctx, req.AccountID); err != nil {
		return nil, err
	}
	achievement, err := s.accounts.GetAchievement(ctx, req.AchievementID)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.GrantAchievement(ctx, req.AccountID, req.AchievementID); err != nil {
		return nil, err
	}

	s.logger.Info("achievement granted",
		"account_id", req.AccountID,
		"achievement_id", req.AchievementID,
		"granted_by", claims.Subject,
	)
	return &domain.AchievementGrant{
		AccountID:   req.AccountID,
		Achievement: *achievement,
	}, nil
}

// ListAchievements returns the achievements of accountID to any authenticated caller
func (s *Operations) ListAchievements(ctx context.Context, claims auth.Claims, accountID uuid.UUID) (*domain.AccountAchievements, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if !claims.Valid() {
		return nil, domain.ErrUnauthorized
	}
	if accountID == uuid.Nil {
		return nil, domain.ErrInvalidRequest
	}
	return s.listAchievements(ctx, accountID)
}

// MyAchievements returns the caller's achievements
func (s *Operations) MyAchievements(ctx context.Context, claims auth.Claims) (*domain.AccountAchievements, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	accountID, err := s.callerID(claims)
	if err != nil {
		return nil, err
	}
	return s.listAchievements(ctx, accountID)
}

func (s *Operations) listAchievements(ctx context.Context, accountID uuid.UUID) (*domain.AccountAchievements, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	achievements, err := s.accounts.ListAchievements(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.AccountAchievements{
		AccountID:    accountID,
		Achievements: achievements,
	}, nil
}

// SetRank sets an account's rank, replacing any previous one
func (s *Operations) SetRank(ctx context.Context, claims auth.Claims, accountID uuid.UUID, req domain.SetRankRequest) (*domain.AccountRank, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.requireOperator(ctx, claims, "set_rank"); err != nil {
		return nil, err
	}
	if accountID == uuid.Nil || req.RankID <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if _, err := s.accounts.GetRank(ctx, req.RankID); err != nil {
		return nil, err
	}

	if err := s.accounts.UpsertAccountRank(ctx, accountID, req.RankID); err != nil {
		return nil, err
	}

	s.logger.Info("rank set",
		"account_id", accountID,
		"rank_id", req.RankID,
		"set_by", claims.Subject,
	)
	return &domain.AccountRank{
		AccountID: accountID,
		RankID:    req.RankID,
		Ranked:    true,
	}, nil
}

// GetRank returns an account's effective rank to any authenticated caller
func (s *Operations) GetRank(ctx context.Context, claims auth.Claims, accountID uuid.UUID) (*domain.AccountRank, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if !claims.Valid() {
		return nil, domain.ErrUnauthorized
	}
	if accountID == uuid.Nil {
		return nil, domain.ErrInvalidRequest
	}
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	rank, ranked, err := s.ranks.Lookup(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.AccountRank{
		AccountID: accountID,
		RankID:    rank,
		Ranked:    ranked,
	}, nil
}

// callerID extracts the calling account from claims
func (s *Operations) callerID(claims auth.Claims) (uuid.UUID, error) {
	if !claims.Valid() {
		return uuid.Nil, domain.ErrUnauthorized
	}
	id, ok := claims.AccountID()
	if !ok {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return id, nil
}

// IsTimeout reports whether err was caused by the store deadline
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
