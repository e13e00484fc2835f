package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a registered account
type Account struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	RoleID    int       `json:"role_id"`
	RoleName  string    `json:"role_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is an entry of the static role catalogue
type Role struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Rank is an entry of the static rank catalogue. Lower ids are lower ranks.
type Rank struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// Achievement is an immutable catalogue entry
type Achievement struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// AccountAchievements lists the achievements granted to an account
type AccountAchievements struct {
	AccountID    uuid.UUID     `json:"account_id"`
	Achievements []Achievement `json:"achievements"`
}

// AccountRank is the effective rank of an account. Ranked is false when the
// default rank was applied.
type AccountRank struct {
	AccountID uuid.UUID `json:"account_id"`
	RankID    int       `json:"rank_id"`
	Ranked    bool      `json:"ranked"`
}

// GrantAchievementRequest represents a request to grant an achievement
type GrantAchievementRequest struct {
	AccountID     uuid.UUID `json:"account_id"`
	AchievementID int       `json:"achievement_id"`
}

// Validate checks that all fields are present
func (r *GrantAchievementRequest) Validate() error {
	if r.AccountID == uuid.Nil || r.AchievementID <= 0 {
		return ErrInvalidRequest
	}
	return nil
}

// AchievementGrant is the result of a successful grant
type AchievementGrant struct {
	AccountID   uuid.UUID   `json:"account_id"`
	Achievement Achievement `json:"achievement"`
}

// SetRankRequest represents a request to change an account's rank
type SetRankRequest struct {
	RankID int `json:"rank_id"`
}
